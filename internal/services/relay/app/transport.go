package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/louisbranch/polyglot.chat/internal/platform/id"
	"github.com/louisbranch/polyglot.chat/internal/services/relay/lang"
	"golang.org/x/net/websocket"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3

	maxNicknameRunes    = 64
	maxMessageBodyRunes = 2000
)

func newHandler(c *core) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", serveIndex)
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleWSConn(conn, c)
	})

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})

	return mux
}

func handleWSConn(conn *websocket.Conn, c *core) {
	defer func() {
		_ = conn.Close()
	}()

	connID, err := id.NewID()
	if err != nil {
		log.Printf("relay: assign connection id: %v", err)
		return
	}

	decoder := json.NewDecoder(conn)
	p := newPeer(json.NewEncoder(conn))

	userID, err := c.registry.create(connID, p)
	if err != nil {
		log.Printf("relay: register connection: %v", err)
		return
	}
	log.Printf("relay: connected conn=%s user=%s", connID, userID)

	// The request context dies with the connection; departure notifications
	// to the remaining peers must outlive it.
	defer func() {
		if c.disconnect(context.Background(), connID, leftBody) {
			log.Printf("relay: disconnected conn=%s", connID)
		}
	}()

	ctx := conn.Request().Context()

	// New connections get the current roster immediately; membership did
	// not change, so nobody else is notified.
	c.sendUserList(p)

	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = writeError(p, "INVALID_ARGUMENT", "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = writeError(p, "INVALID_ARGUMENT", "payload too large")
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = writeError(p, "RESOURCE_EXHAUSTED", "rate limit exceeded")
			return
		}

		switch frame.Type {
		case "set_user_info":
			handleSetUserInfo(ctx, c, connID, p, frame)
		case "send_message":
			handleSendMessage(ctx, c, connID, p, frame)
		case "heartbeat":
			handleHeartbeat(c, connID, p)
		case "request_user_list":
			handleRequestUserList(c, connID, p)
		default:
			_ = writeError(p, "INVALID_ARGUMENT", "unsupported frame type")
		}
	}
}

func handleSetUserInfo(ctx context.Context, c *core, connID string, p *peer, frame wsFrame) {
	var payload setUserInfoPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = p.writeFrame(wsFrame{Type: "user_info_set", Payload: mustJSON(userInfoSetPayload{Success: false})})
		return
	}

	nickname := strings.TrimSpace(payload.Nickname)
	if nickname == "" || utf8.RuneCountInString(nickname) > maxNicknameRunes {
		_ = p.writeFrame(wsFrame{Type: "user_info_set", Payload: mustJSON(userInfoSetPayload{Success: false})})
		return
	}

	language := lang.FromLabel(strings.TrimSpace(payload.Language))
	joined, err := c.setIdentity(connID, nickname, language)
	if err != nil {
		_ = p.writeFrame(wsFrame{Type: "user_info_set", Payload: mustJSON(userInfoSetPayload{Success: false})})
		return
	}

	_ = p.writeFrame(wsFrame{Type: "user_info_set", Payload: mustJSON(userInfoSetPayload{Success: true})})
	c.announceJoin(ctx, joined)
}

func handleSendMessage(ctx context.Context, c *core, connID string, p *peer, frame wsFrame) {
	var payload sendMessagePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeError(p, "INVALID_ARGUMENT", "invalid message payload")
		return
	}
	if payload.Message == "" {
		_ = writeError(p, "INVALID_ARGUMENT", "message is required")
		return
	}
	if utf8.RuneCountInString(payload.Message) > maxMessageBodyRunes {
		_ = writeError(p, "INVALID_ARGUMENT", "message must be at most 2000 characters")
		return
	}

	c.handleMessage(ctx, connID, payload.Message)
}

func handleHeartbeat(c *core, connID string, p *peer) {
	if err := c.registry.touchHeartbeat(connID); err != nil {
		return
	}
	_ = p.writeFrame(wsFrame{
		Type:    "heartbeat_ack",
		Payload: mustJSON(heartbeatAckPayload{Timestamp: time.Now().UTC().Format(time.RFC3339)}),
	})
}

func handleRequestUserList(c *core, connID string, p *peer) {
	if _, ok := c.registry.get(connID); !ok {
		return
	}
	c.sendUserList(p)
}
