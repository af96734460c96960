package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"github.com/mnemograph/mnemo/internal/chat"
)

const chatTurnTimeout = 60 * time.Second

// ChatSocketMessage is an inbound frame on the chat WebSocket.
type ChatSocketMessage struct {
	ChatID  string `json:"chat_id"`
	Message string `json:"message"`
}

// ChatSocketReply is an outbound frame on the chat WebSocket. Exactly one of
// Response or Error is populated per frame.
type ChatSocketReply struct {
	ChatID   string              `json:"chat_id,omitempty"`
	Response string              `json:"response,omitempty"`
	Sources  []chat.MemorySource `json:"sources,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// ChatSocket serves interactive chat sessions over WebSocket. Each
// connection is an independent session: the client sends one frame per user
// turn and receives one reply frame per turn, in order.
type ChatSocket struct {
	chats   *chat.Processor
	origins []string
}

// NewChatSocket creates a chat WebSocket handler. allowedOrigins lists
// host:port patterns accepted during the upgrade handshake.
func NewChatSocket(chats *chat.Processor, allowedOrigins []string) *ChatSocket {
	return &ChatSocket{chats: chats, origins: allowedOrigins}
}

// ServeHTTP upgrades the connection and runs the session loop until the
// client disconnects.
func (s *ChatSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		log.Printf("handlers: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	log.Printf("handlers: chat websocket connected from %s", r.RemoteAddr)

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			// Connection closed.
			return
		}

		var msg ChatSocketMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.write(r.Context(), conn, ChatSocketReply{Error: "invalid message frame"})
			continue
		}
		if msg.ChatID == "" || strings.TrimSpace(msg.Message) == "" {
			s.write(r.Context(), conn, ChatSocketReply{ChatID: msg.ChatID, Error: "chat_id and message are required"})
			continue
		}

		turnCtx, cancel := context.WithTimeout(r.Context(), chatTurnTimeout)
		reply, err := s.chats.ProcessUserMessage(turnCtx, msg.ChatID, msg.Message)
		cancel()

		if err != nil {
			log.Printf("handlers: chat turn failed for %s: %v", msg.ChatID, err)
			s.write(r.Context(), conn, ChatSocketReply{ChatID: msg.ChatID, Error: "failed to process message"})
			continue
		}

		s.write(r.Context(), conn, ChatSocketReply{
			ChatID:   msg.ChatID,
			Response: reply.Response,
			Sources:  reply.Sources,
		})
	}
}

func (s *ChatSocket) write(ctx context.Context, conn *websocket.Conn, reply ChatSocketReply) {
	data, err := json.Marshal(reply)
	if err != nil {
		log.Printf("handlers: marshal websocket reply: %v", err)
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		log.Printf("handlers: websocket write failed: %v", err)
	}
}
