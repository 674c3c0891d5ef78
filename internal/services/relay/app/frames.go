package server

import (
	"encoding/json"
	"log"
)

// wsFrame is the newline-delimited JSON envelope both directions share.
type wsFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type setUserInfoPayload struct {
	Nickname string `json:"nickname"`
	Language string `json:"language"`
}

type sendMessagePayload struct {
	Message string `json:"message"`
}

type userListEntry struct {
	Nickname string `json:"nickname"`
	Language string `json:"language"`
	UserID   string `json:"user_id"`
}

type userListPayload struct {
	Users []userListEntry `json:"users"`
}

type presenceUser struct {
	Nickname string `json:"nickname"`
	Language string `json:"language"`
}

// presencePayload carries user_joined and user_left announcements. Message
// is already translated to the recipient's language when it arrives here.
type presencePayload struct {
	Message  string       `json:"message"`
	Nickname string       `json:"nickname"`
	User     presenceUser `json:"user"`
}

type receiveMessagePayload struct {
	Nickname         string `json:"nickname"`
	Message          string `json:"message"`
	OriginalLanguage string `json:"original_language"`
	IsOwnMessage     bool   `json:"is_own_message"`
}

type userInfoSetPayload struct {
	Success bool `json:"success"`
}

type heartbeatAckPayload struct {
	Timestamp string `json:"timestamp"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(p *peer, code string, message string) error {
	return p.writeFrame(wsFrame{
		Type:    "error",
		Payload: mustJSON(errorPayload{Code: code, Message: message}),
	})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("relay: failed to marshal frame payload: %v", err)
		return nil
	}
	return b
}
