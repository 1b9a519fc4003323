package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/mindconnect-server/internal/client"
	"github.com/vovakirdan/mindconnect-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

// run signs up a throwaway account, sends one chat message over the stream
// and waits for it to come back.
func run() error {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	chatID := flag.String("chat", "smoke", "chat to post into")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	api := client.New(*server, nil)
	email := fmt.Sprintf("smoke-%d@example.com", time.Now().UnixNano())
	auth, err := api.SignUp(ctx, email, "smoke-password")
	if err != nil {
		return fmt.Errorf("signup: %w", err)
	}

	wsURL := strings.Replace(*server, "http", "ws", 1) + "/api/chats/" + *chatID + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + auth.Token}},
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	payload, err := json.Marshal(proto.MsgData{Text: *text})
	if err != nil {
		return fmt.Errorf("marshal msg: %w", err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypeMsg, Data: payload}); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	for {
		var env proto.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		fmt.Printf("Received: type=%s", env.Type)
		if env.Event != "" {
			fmt.Printf(" event=%s", env.Event)
		}
		fmt.Println()

		if env.Error != nil {
			return errors.New(env.Error.Code + ": " + env.Error.Msg)
		}
		if env.Event != proto.EventChatMessage {
			continue
		}

		var msg proto.ChatMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return fmt.Errorf("unmarshal message: %w", err)
		}
		fmt.Printf("ChatMessage: chat=%s sender=%s text=%q\n", msg.ChatID, msg.Sender, msg.Text)
		if msg.Sender == auth.User.Email && msg.Text == *text {
			return nil
		}
	}
}
