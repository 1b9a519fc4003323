package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/mindconnect-server/internal/proto"
)

func startTestServer(t *testing.T) (*httptest.Server, http.Handler) {
	t.Helper()

	svc, _ := createTestServices(t, nil)
	cfg := testConfig()
	cfg.ChatRateLimit = 2
	server := NewServer(svc, cfg, nopLogger())

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)
	return ts, server.Handler
}

func dialWS(ctx context.Context, t *testing.T, ts *httptest.Server, path, token string) *websocket.Conn {
	t.Helper()
	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + path
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func readEnvelope(ctx context.Context, t *testing.T, conn *websocket.Conn) proto.Envelope {
	t.Helper()
	var env proto.Envelope
	if err := wsjson.Read(ctx, conn, &env); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	return env
}

func TestCallStreamReplaysThenStreams(t *testing.T) {
	ts, h := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	caller := signUp(t, h, "caller@example.com")
	created := decode[proto.Call](t, doJSON(t, h, http.MethodPost, "/api/calls", caller.Token, nil))
	base := "/api/calls/" + created.ID
	doJSON(t, h, http.MethodPut, base+"/offer", caller.Token, proto.Description{Type: "offer", SDP: "v=0 offer"})
	doJSON(t, h, http.MethodPost, base+"/candidates/offer", caller.Token, `{"candidate":"candidate:1"}`)

	conn := dialWS(ctx, t, ts, base+"/ws", caller.Token)

	env := readEnvelope(ctx, t, conn)
	if env.Type != proto.OutboundTypeEvent || env.Event != proto.EventCallUpdated {
		t.Fatalf("expected call snapshot first, got %+v", env)
	}
	env = readEnvelope(ctx, t, conn)
	if env.Event != proto.EventCandidateAdded {
		t.Fatalf("expected replayed candidate, got %+v", env)
	}
	var cand proto.Candidate
	if err := json.Unmarshal(env.Data, &cand); err != nil {
		t.Fatalf("decode candidate: %v", err)
	}
	if cand.Direction != "offer" || !strings.Contains(string(cand.Candidate), "candidate:1") {
		t.Fatalf("unexpected candidate: %+v", cand)
	}

	callee := signUp(t, h, "callee@example.com")
	if resp := doJSON(t, h, http.MethodPut, base+"/answer", callee.Token, proto.Description{Type: "answer", SDP: "v=0 answer"}); resp.Code != http.StatusOK {
		t.Fatalf("answer: %d %s", resp.Code, resp.Body.String())
	}

	env = readEnvelope(ctx, t, conn)
	var call proto.Call
	if err := json.Unmarshal(env.Data, &call); err != nil {
		t.Fatalf("decode call: %v", err)
	}
	if env.Event != proto.EventCallUpdated || call.Answer == nil || call.Answer.SDP != "v=0 answer" {
		t.Fatalf("expected live answer, got %+v", env)
	}
}

func TestCallStreamUnknownCall(t *testing.T) {
	ts, h := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	user := signUp(t, h, "ann@example.com")

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/api/calls/missing/ws"
	_, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + user.Token}},
	})
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %+v", resp)
	}
}

func TestChatStream(t *testing.T) {
	ts, h := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ann := signUp(t, h, "ann@example.com")
	bob := signUp(t, h, "bob@example.com")

	connA := dialWS(ctx, t, ts, "/api/chats/room-1/ws", ann.Token)
	connB := dialWS(ctx, t, ts, "/api/chats/room-1/ws", bob.Token)

	send := func(conn *websocket.Conn, typ string, data any) {
		payload, _ := json.Marshal(data)
		if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	send(connA, "hello", map[string]string{})
	if env := readEnvelope(ctx, t, connA); env.Type != proto.OutboundTypeError || env.Error == nil || env.Error.Code != "invalid_message" {
		t.Fatalf("expected invalid_message error, got %+v", env)
	}

	send(connA, proto.InboundTypeMsg, proto.MsgData{Text: "feeling calm today"})

	env := readEnvelope(ctx, t, connB)
	var msg proto.ChatMessage
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if env.Event != proto.EventChatMessage || msg.Sender != "ann@example.com" || msg.Text != "feeling calm today" {
		t.Fatalf("unexpected chat event: %+v %+v", env, msg)
	}

	// the sender sees its own message too
	if env := readEnvelope(ctx, t, connA); env.Event != proto.EventChatMessage {
		t.Fatalf("expected own message echo, got %+v", env)
	}

	send(connA, proto.InboundTypeMsg, proto.MsgData{Text: "second"})
	readEnvelope(ctx, t, connA)
	send(connA, proto.InboundTypeMsg, proto.MsgData{Text: "third"})
	if env := readEnvelope(ctx, t, connA); env.Error == nil || env.Error.Code != "rate_limited" {
		t.Fatalf("expected rate_limited error, got %+v", env)
	}

	history := decode[[]proto.ChatMessage](t, doJSON(t, h, http.MethodGet, "/api/chats/room-1/messages", bob.Token, nil))
	if len(history) != 2 {
		t.Fatalf("expected 2 stored messages, got %d", len(history))
	}

	mood := decode[MoodResponse](t, doJSON(t, h, http.MethodGet, "/api/chats/room-1/mood", bob.Token, nil))
	if mood.Mood != "positive" {
		t.Fatalf("unexpected mood: %+v", mood)
	}

	suggestions := decode[SuggestionsResponse](t, doJSON(t, h, http.MethodGet, "/api/chats/room-1/suggestions", bob.Token, nil))
	if len(suggestions.Suggestions) != 3 {
		t.Fatalf("expected fallback suggestions, got %+v", suggestions)
	}
}

func TestWebSocketUpgradeThroughRouter(t *testing.T) {
	ts, h := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	user := signUp(t, h, "ann@example.com")

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/api/chats/lobby/ws"
	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + user.Token}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	// A frame round trip proves the hijacked connection is live.
	payload, _ := json.Marshal(proto.MsgData{Text: "ping"})
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypeMsg, Data: payload}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if env := readEnvelope(ctx, t, conn); env.Event != proto.EventChatMessage {
		t.Fatalf("expected chat message, got %+v", env)
	}
}
