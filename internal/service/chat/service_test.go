package chat

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/vovakirdan/mindconnect-server/internal/core"
	"github.com/vovakirdan/mindconnect-server/internal/store"
	"github.com/vovakirdan/mindconnect-server/internal/store/sqlite"
)

type stubGenerator struct {
	content string
	err     error
	prompts []string
}

func (g *stubGenerator) Complete(_ context.Context, _, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	return g.content, g.err
}

func newTestService(t *testing.T, gen *stubGenerator) *Service {
	t.Helper()
	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := core.NewHub(nil)
	go hub.Run(ctx)

	if gen == nil {
		return New(st, hub, nil, nil)
	}
	return New(st, hub, gen, nil)
}

func TestPostValidation(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	if _, err := svc.Post(ctx, "c1", "ann", "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if _, err := svc.Post(ctx, " ", "ann", "hi"); !errors.Is(err, ErrInvalidChat) {
		t.Fatalf("expected ErrInvalidChat, got %v", err)
	}
	if _, err := svc.Post(ctx, "c1", "ann", strings.Repeat("a", maxTextLen+1)); !errors.Is(err, ErrMessageTooLong) {
		t.Fatalf("expected ErrMessageTooLong, got %v", err)
	}
}

func TestPostAndSubscribe(t *testing.T) {
	svc := newTestService(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	msgs, err := svc.Subscribe(ctx, "c1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := svc.Post(ctx, "other", "ann", "not for c1"); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if _, err := svc.Post(ctx, "c1", "ann", " hello "); err != nil {
		t.Fatalf("Post: %v", err)
	}

	select {
	case m := <-msgs:
		if m.ChatID != "c1" || m.Text != "hello" {
			t.Fatalf("unexpected message %+v", m)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}

	list, err := svc.List(ctx, "c1", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 message, got %d", len(list))
	}
}

func TestAnalyzeMood(t *testing.T) {
	msg := func(text string) *store.ChatMessage { return &store.ChatMessage{Text: text} }

	tests := []struct {
		name string
		msgs []*store.ChatMessage
		want MoodLabel
	}{
		{name: "empty", want: MoodNeutral},
		{name: "positive", msgs: []*store.ChatMessage{msg("I feel Calm"), msg("a GOOD day")}, want: MoodPositive},
		{name: "negative", msgs: []*store.ChatMessage{msg("so tired"), msg("anxious and worried"), msg("happy though")}, want: MoodNegative},
		{name: "tie", msgs: []*store.ChatMessage{msg("sad but happy")}, want: MoodNeutral},
		{name: "repeats count once", msgs: []*store.ChatMessage{msg("sad sad sad"), msg("calm and good")}, want: MoodPositive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AnalyzeMood(tt.msgs); got.Label != tt.want {
				t.Fatalf("expected %s, got %s (%+v)", tt.want, got.Label, got)
			}
		})
	}
}

func TestMoodUsesLastTenMessages(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	if _, err := svc.Post(ctx, "c1", "ann", "sad and tired"); err != nil {
		t.Fatalf("Post: %v", err)
	}
	for i := 0; i < moodWindow; i++ {
		if _, err := svc.Post(ctx, "c1", "ann", "feeling good"); err != nil {
			t.Fatalf("Post: %v", err)
		}
	}

	mood, err := svc.Mood(ctx, "c1")
	if err != nil {
		t.Fatalf("Mood: %v", err)
	}
	if mood.Label != MoodPositive || mood.Negative != 0 {
		t.Fatalf("oldest message must fall out of the window: %+v", mood)
	}
}

func TestParseSuggestions(t *testing.T) {
	got := ParseSuggestions("1. First\n\n2.   Second \n3. Third\n4. Fourth")
	want := []string{"First", "Second", "Third"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestSuggestions(t *testing.T) {
	ctx := context.Background()

	t.Run("no generator", func(t *testing.T) {
		svc := newTestService(t, nil)
		svc.Post(ctx, "c1", "ann", "hi")
		got, err := svc.Suggestions(ctx, "c1")
		if err != nil {
			t.Fatalf("Suggestions: %v", err)
		}
		if !reflect.DeepEqual(got, FallbackSuggestions) {
			t.Fatalf("expected fallback, got %v", got)
		}
	})

	t.Run("generator error", func(t *testing.T) {
		gen := &stubGenerator{err: errors.New("down")}
		svc := newTestService(t, gen)
		svc.Post(ctx, "c1", "ann", "hi")
		got, _ := svc.Suggestions(ctx, "c1")
		if !reflect.DeepEqual(got, FallbackSuggestions) {
			t.Fatalf("expected fallback, got %v", got)
		}
	})

	t.Run("generated", func(t *testing.T) {
		gen := &stubGenerator{content: "1. Take a breath\n2. I hear you\n3. Tell me more"}
		svc := newTestService(t, gen)
		svc.Post(ctx, "c1", "ann", "first")
		svc.Post(ctx, "c1", "ann", "I had a rough day")
		got, err := svc.Suggestions(ctx, "c1")
		if err != nil {
			t.Fatalf("Suggestions: %v", err)
		}
		if len(got) != 3 || got[0] != "Take a breath" {
			t.Fatalf("unexpected suggestions %v", got)
		}
		if len(gen.prompts) != 1 || !strings.Contains(gen.prompts[0], "I had a rough day") {
			t.Fatalf("prompt must quote the latest message: %v", gen.prompts)
		}
	})
}

