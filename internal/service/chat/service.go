package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindconnect-server/internal/assist"
	"github.com/vovakirdan/mindconnect-server/internal/core"
	"github.com/vovakirdan/mindconnect-server/internal/store"
)

// Common errors for chat operations.
var (
	ErrEmptyMessage   = errors.New("message text is empty")
	ErrMessageTooLong = errors.New("message text too long")
	ErrInvalidChat    = errors.New("invalid chat id")
)

const (
	maxTextLen       = 4000
	defaultPageSize  = 50
	maxPageSize      = 200
	moodWindow       = 10
	maxSuggestions   = 3
	suggestionSystem = "You are a kind and empathetic therapy assistant."
)

// FallbackSuggestions are offered when no generator is configured or it fails.
var FallbackSuggestions = []string{
	"I’m here for you 💙",
	"Would you like to talk more about it?",
	"That sounds really tough, take a deep breath.",
}

var (
	positiveWords = []string{"happy", "calm", "good", "love", "great", "relaxed"}
	negativeWords = []string{"sad", "tired", "anxious", "angry", "worried", "bad"}

	listPrefix = regexp.MustCompile(`^\d+\.\s*`)
)

// MoodLabel is the outcome of a mood analysis.
type MoodLabel string

const (
	MoodPositive MoodLabel = "positive"
	MoodNegative MoodLabel = "negative"
	MoodNeutral  MoodLabel = "neutral"
)

// Mood summarizes the tone of recent messages.
type Mood struct {
	Label    MoodLabel
	Positive int
	Negative int
	Summary  string
}

// Service manages chat threads.
type Service struct {
	store     store.MessageStore
	hub       *core.Hub
	generator assist.Generator
	log       *zerolog.Logger
}

// New creates a chat service. hub and generator may be nil.
func New(st store.MessageStore, hub *core.Hub, generator assist.Generator, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{
		store:     st,
		hub:       hub,
		generator: generator,
		log:       logger,
	}
}

// Post saves a message and publishes it to the chat's subscribers.
func (s *Service) Post(ctx context.Context, chatID, sender, text string) (*store.ChatMessage, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return nil, ErrInvalidChat
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if len(text) > maxTextLen {
		return nil, ErrMessageTooLong
	}

	msg := &store.ChatMessage{ChatID: chatID, Sender: sender, Text: text}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}

	if s.hub != nil {
		s.hub.Publish(&core.Event{
			Kind:    core.EventChatMessage,
			Topic:   core.ChatTopic(chatID),
			Message: msg,
		})
	}
	s.log.Debug().Str("chat_id", chatID).Str("sender", sender).Msg("chat message posted")
	return msg, nil
}

// List returns the newest limit messages in timestamp order.
func (s *Service) List(ctx context.Context, chatID string, limit int) ([]*store.ChatMessage, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, ErrInvalidChat
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)

	msgs, err := s.store.ListMessages(ctx, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// Subscribe streams new messages of a chat until ctx is done.
func (s *Service) Subscribe(ctx context.Context, chatID string) (<-chan *store.ChatMessage, error) {
	if s.hub == nil {
		return nil, errors.New("change streams disabled")
	}
	if strings.TrimSpace(chatID) == "" {
		return nil, ErrInvalidChat
	}

	sub := s.hub.Subscribe(core.ChatTopic(chatID))
	out := make(chan *store.ChatMessage)
	go func() {
		defer close(out)
		defer s.hub.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Events:
				if !ok {
					if sub.Lagged() {
						s.log.Warn().Str("chat_id", chatID).Msg("chat subscriber lagged, closing stream")
					}
					return
				}
				if ev.Kind != core.EventChatMessage || ev.Message == nil {
					continue
				}
				select {
				case out <- ev.Message:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Mood classifies the last messages of a chat by keyword.
func (s *Service) Mood(ctx context.Context, chatID string) (*Mood, error) {
	msgs, err := s.List(ctx, chatID, moodWindow)
	if err != nil {
		return nil, err
	}
	return AnalyzeMood(msgs), nil
}

// AnalyzeMood counts how many positive and negative keywords occur in msgs.
func AnalyzeMood(msgs []*store.ChatMessage) *Mood {
	texts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		texts = append(texts, strings.ToLower(m.Text))
	}
	recent := strings.Join(texts, " ")

	mood := &Mood{
		Positive: countPresent(recent, positiveWords),
		Negative: countPresent(recent, negativeWords),
	}
	switch {
	case mood.Positive > mood.Negative:
		mood.Label = MoodPositive
		mood.Summary = "You seemed positive and relaxed during this session."
	case mood.Negative > mood.Positive:
		mood.Label = MoodNegative
		mood.Summary = "You seemed a bit low or anxious. Take care and reach out if needed."
	default:
		mood.Label = MoodNeutral
		mood.Summary = "You seemed neutral today. Keep checking in with yourself."
	}
	return mood
}

func countPresent(text string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			n++
		}
	}
	return n
}

// Suggestions proposes up to three replies to the latest message of a chat.
// Any generator failure yields FallbackSuggestions.
func (s *Service) Suggestions(ctx context.Context, chatID string) ([]string, error) {
	msgs, err := s.List(ctx, chatID, 1)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 || s.generator == nil {
		return fallback(), nil
	}

	last := msgs[len(msgs)-1].Text
	prompt := fmt.Sprintf("Generate 3 short and supportive responses to this message: %q. Keep them conversational and caring.", last)
	content, err := s.generator.Complete(ctx, suggestionSystem, prompt)
	if err != nil {
		s.log.Warn().Err(err).Str("chat_id", chatID).Msg("smart replies unavailable, using fallback")
		return fallback(), nil
	}

	suggestions := ParseSuggestions(content)
	if len(suggestions) == 0 {
		return fallback(), nil
	}
	return suggestions, nil
}

// ParseSuggestions splits a numbered list into at most three entries.
func ParseSuggestions(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(listPrefix.ReplaceAllString(strings.TrimSpace(line), ""))
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == maxSuggestions {
			break
		}
	}
	return out
}

func fallback() []string {
	out := make([]string, len(FallbackSuggestions))
	copy(out, FallbackSuggestions)
	return out
}
