package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/louisbranch/polyglot.chat/internal/services/relay/translate"
	"golang.org/x/net/websocket"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	handler := newHandler(newCore(translate.NewGateway(prefixTranslator{}, 0)))
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	if err := json.NewEncoder(conn).Encode(frame); err != nil {
		t.Fatalf("encode frame: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	var got wsFrame
	if err := json.NewDecoder(conn).Decode(&got); err != nil {
		t.Fatalf("decode server frame: %v", err)
	}
	return got
}

// readFrameOfType reads frames until one of the wanted type arrives.
// Broadcasts from other connections interleave freely, so tests filter
// rather than assume strict ordering across peers.
func readFrameOfType(t *testing.T, conn *websocket.Conn, wantType string) wsFrame {
	t.Helper()
	for i := 0; i < 20; i++ {
		got := readFrame(t, conn)
		if got.Type == wantType {
			return got
		}
	}
	t.Fatalf("no %q frame within 20 reads", wantType)
	return wsFrame{}
}

func setIdentityOverWS(t *testing.T, conn *websocket.Conn, nickname string, language string) {
	t.Helper()
	writeFrame(t, conn, map[string]any{
		"type":    "set_user_info",
		"payload": map[string]any{"nickname": nickname, "language": language},
	})
	got := readFrameOfType(t, conn, "user_info_set")
	var payload userInfoSetPayload
	if err := json.Unmarshal(got.Payload, &payload); err != nil {
		t.Fatalf("decode user_info_set: %v", err)
	}
	if !payload.Success {
		t.Fatalf("set_user_info for %q failed", nickname)
	}
}

func TestConnectReceivesCurrentRoster(t *testing.T) {
	srv := newTestServer(t)

	conn := dialWS(t, srv)
	got := readFrame(t, conn)
	if got.Type != "user_list_update" {
		t.Fatalf("first frame type = %q, want user_list_update", got.Type)
	}
	var payload userListPayload
	if err := json.Unmarshal(got.Payload, &payload); err != nil {
		t.Fatalf("decode roster: %v", err)
	}
	if len(payload.Users) != 0 {
		t.Fatalf("expected empty roster, got %d users", len(payload.Users))
	}
}

func TestSetUserInfoAnnouncesJoinToOthers(t *testing.T) {
	srv := newTestServer(t)

	alice := dialWS(t, srv)
	setIdentityOverWS(t, alice, "alice", "english")

	bob := dialWS(t, srv)
	// Bob's initial roster already lists alice.
	roster := readFrameOfType(t, bob, "user_list_update")
	if !strings.Contains(string(roster.Payload), "alice") {
		t.Fatalf("expected alice in initial roster, got %s", string(roster.Payload))
	}

	setIdentityOverWS(t, bob, "bob", "korean")

	joined := readFrameOfType(t, alice, "user_joined")
	var payload presencePayload
	if err := json.Unmarshal(joined.Payload, &payload); err != nil {
		t.Fatalf("decode user_joined: %v", err)
	}
	if payload.Nickname != "bob" {
		t.Fatalf("expected bob to join, got %q", payload.Nickname)
	}
	if payload.Message != "[en] bob joined the chat." {
		t.Fatalf("unexpected join message %q", payload.Message)
	}

	updated := readFrameOfType(t, alice, "user_list_update")
	if !strings.Contains(string(updated.Payload), "bob") {
		t.Fatalf("expected bob in roster broadcast, got %s", string(updated.Payload))
	}
}

func TestSendMessageFansOutTranslatedCopies(t *testing.T) {
	srv := newTestServer(t)

	alice := dialWS(t, srv)
	setIdentityOverWS(t, alice, "alice", "english")
	bob := dialWS(t, srv)
	setIdentityOverWS(t, bob, "bob", "korean")

	writeFrame(t, alice, map[string]any{
		"type":    "send_message",
		"payload": map[string]any{"message": "hello"},
	})

	own := readFrameOfType(t, alice, "receive_message")
	var ownPayload receiveMessagePayload
	if err := json.Unmarshal(own.Payload, &ownPayload); err != nil {
		t.Fatalf("decode own copy: %v", err)
	}
	if ownPayload.Message != "hello" || !ownPayload.IsOwnMessage {
		t.Fatalf("sender copy = %+v, want untranslated original", ownPayload)
	}
	if ownPayload.Nickname != "alice" || ownPayload.OriginalLanguage != "English" {
		t.Fatalf("unexpected sender metadata %+v", ownPayload)
	}

	theirs := readFrameOfType(t, bob, "receive_message")
	var theirPayload receiveMessagePayload
	if err := json.Unmarshal(theirs.Payload, &theirPayload); err != nil {
		t.Fatalf("decode bob copy: %v", err)
	}
	if theirPayload.Message != "[ko] hello" || theirPayload.IsOwnMessage {
		t.Fatalf("recipient copy = %+v, want translated copy", theirPayload)
	}
}

func TestSendMessageFromUnidentifiedSenderIsIgnored(t *testing.T) {
	srv := newTestServer(t)

	alice := dialWS(t, srv)
	setIdentityOverWS(t, alice, "alice", "english")

	quiet := dialWS(t, srv)
	writeFrame(t, quiet, map[string]any{
		"type":    "send_message",
		"payload": map[string]any{"message": "should vanish"},
	})

	// A follow-up real message must be the next chat frame alice sees.
	writeFrame(t, alice, map[string]any{
		"type":    "send_message",
		"payload": map[string]any{"message": "real"},
	})
	got := readFrameOfType(t, alice, "receive_message")
	if !strings.Contains(string(got.Payload), "real") {
		t.Fatalf("expected the identified sender's message, got %s", string(got.Payload))
	}
}

func TestDisconnectAnnouncesLeave(t *testing.T) {
	srv := newTestServer(t)

	alice := dialWS(t, srv)
	setIdentityOverWS(t, alice, "alice", "english")
	bob := dialWS(t, srv)
	setIdentityOverWS(t, bob, "bob", "korean")
	// Drain alice's join traffic for bob.
	readFrameOfType(t, alice, "user_joined")

	_ = bob.Close()

	left := readFrameOfType(t, alice, "user_left")
	var payload presencePayload
	if err := json.Unmarshal(left.Payload, &payload); err != nil {
		t.Fatalf("decode user_left: %v", err)
	}
	if payload.Nickname != "bob" {
		t.Fatalf("expected bob to leave, got %q", payload.Nickname)
	}
	if payload.Message != "[en] bob left the chat." {
		t.Fatalf("unexpected leave message %q", payload.Message)
	}

	roster := readFrameOfType(t, alice, "user_list_update")
	if strings.Contains(string(roster.Payload), "bob") {
		t.Fatalf("roster still lists bob after leave: %s", string(roster.Payload))
	}
}

func TestHeartbeatAcks(t *testing.T) {
	srv := newTestServer(t)

	conn := dialWS(t, srv)
	writeFrame(t, conn, map[string]any{"type": "heartbeat"})

	ack := readFrameOfType(t, conn, "heartbeat_ack")
	var payload heartbeatAckPayload
	if err := json.Unmarshal(ack.Payload, &payload); err != nil {
		t.Fatalf("decode heartbeat_ack: %v", err)
	}
	if _, err := time.Parse(time.RFC3339, payload.Timestamp); err != nil {
		t.Fatalf("ack timestamp %q is not RFC3339: %v", payload.Timestamp, err)
	}
}

func TestRequestUserListRepliesToRequesterOnly(t *testing.T) {
	srv := newTestServer(t)

	alice := dialWS(t, srv)
	setIdentityOverWS(t, alice, "alice", "english")

	conn := dialWS(t, srv)
	readFrameOfType(t, conn, "user_list_update") // initial roster
	writeFrame(t, conn, map[string]any{"type": "request_user_list"})

	reply := readFrameOfType(t, conn, "user_list_update")
	if !strings.Contains(string(reply.Payload), "alice") {
		t.Fatalf("expected alice in requested roster, got %s", string(reply.Payload))
	}
}

func TestSetUserInfoRejectsBlankNickname(t *testing.T) {
	srv := newTestServer(t)

	conn := dialWS(t, srv)
	writeFrame(t, conn, map[string]any{
		"type":    "set_user_info",
		"payload": map[string]any{"nickname": "   ", "language": "english"},
	})

	got := readFrameOfType(t, conn, "user_info_set")
	var payload userInfoSetPayload
	if err := json.Unmarshal(got.Payload, &payload); err != nil {
		t.Fatalf("decode user_info_set: %v", err)
	}
	if payload.Success {
		t.Fatal("blank nickname must be rejected")
	}
}

func TestUnknownLanguageLabelFallsBackToDefault(t *testing.T) {
	srv := newTestServer(t)

	alice := dialWS(t, srv)
	setIdentityOverWS(t, alice, "alice", "english")
	bob := dialWS(t, srv)
	setIdentityOverWS(t, bob, "bob", "martian")

	roster := readFrameOfType(t, alice, "user_list_update")
	if !strings.Contains(string(roster.Payload), "한국어") {
		t.Fatalf("expected default korean language for bob, got %s", string(roster.Payload))
	}
}

func TestUnsupportedFrameTypeReturnsError(t *testing.T) {
	srv := newTestServer(t)

	conn := dialWS(t, srv)
	writeFrame(t, conn, map[string]any{"type": "time_travel"})

	got := readFrameOfType(t, conn, "error")
	var payload errorPayload
	if err := json.Unmarshal(got.Payload, &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload.Code != "INVALID_ARGUMENT" {
		t.Fatalf("error code = %q, want INVALID_ARGUMENT", payload.Code)
	}
}

func TestSendMessageWithoutBodyReturnsError(t *testing.T) {
	srv := newTestServer(t)

	conn := dialWS(t, srv)
	setIdentityOverWS(t, conn, "alice", "english")
	writeFrame(t, conn, map[string]any{
		"type":    "send_message",
		"payload": map[string]any{},
	})

	got := readFrameOfType(t, conn, "error")
	if !strings.Contains(string(got.Payload), "message is required") {
		t.Fatalf("unexpected error payload %s", string(got.Payload))
	}
}

func TestHTTPUpEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/up")
	if err != nil {
		t.Fatalf("get /up: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHTTPIndexServesPage(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("get /: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Fatalf("content type = %q, want html", ct)
	}

	missing, err := http.Get(srv.URL + "/nope")
	if err != nil {
		t.Fatalf("get /nope: %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", missing.StatusCode)
	}
}

func TestOversizePayloadGetsErrorAndKeepsConnection(t *testing.T) {
	srv := newTestServer(t)

	conn := dialWS(t, srv)
	readFrameOfType(t, conn, "user_list_update")

	writeFrame(t, conn, map[string]any{
		"type":    "send_message",
		"payload": map[string]any{"message": strings.Repeat("a", maxFramePayloadBytes+1)},
	})

	got := readFrameOfType(t, conn, "error")
	var payload errorPayload
	if err := json.Unmarshal(got.Payload, &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload.Message != "payload too large" {
		t.Fatalf("unexpected error message %q", payload.Message)
	}

	// The connection survives the rejected frame.
	writeFrame(t, conn, map[string]any{"type": "heartbeat"})
	readFrameOfType(t, conn, "heartbeat_ack")
}

func TestMalformedFramesCloseConnectionAfterLimit(t *testing.T) {
	srv := newTestServer(t)

	conn := dialWS(t, srv)
	readFrameOfType(t, conn, "user_list_update")

	// One unparseable message wedges the decoder, so the error counter
	// climbs to its cap without further input.
	if _, err := conn.Write([]byte("{not json")); err != nil {
		t.Fatalf("write malformed frame: %v", err)
	}

	for i := 0; i < maxDecodeErrorsPerConn; i++ {
		got := readFrameOfType(t, conn, "error")
		var payload errorPayload
		if err := json.Unmarshal(got.Payload, &payload); err != nil {
			t.Fatalf("decode error payload: %v", err)
		}
		if payload.Message != "invalid frame payload" {
			t.Fatalf("unexpected error message %q", payload.Message)
		}
	}

	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	var frame wsFrame
	if err := json.NewDecoder(conn).Decode(&frame); err == nil {
		t.Fatalf("expected the connection to be closed, got frame %+v", frame)
	}
}

func TestFrameRateLimitClosesConnection(t *testing.T) {
	srv := newTestServer(t)

	conn := dialWS(t, srv)
	readFrameOfType(t, conn, "user_list_update")

	for i := 0; i < maxFramesPerSecond+1; i++ {
		writeFrame(t, conn, map[string]any{"type": "heartbeat"})
	}

	sawLimit := false
	for i := 0; i < maxFramesPerSecond+5; i++ {
		_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
		var frame wsFrame
		if err := json.NewDecoder(conn).Decode(&frame); err != nil {
			break
		}
		if frame.Type != "error" {
			continue
		}
		var payload errorPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			t.Fatalf("decode error payload: %v", err)
		}
		if payload.Code != "RESOURCE_EXHAUSTED" {
			t.Fatalf("error code = %q, want RESOURCE_EXHAUSTED", payload.Code)
		}
		sawLimit = true
		break
	}
	if !sawLimit {
		t.Fatal("expected a rate limit error frame")
	}

	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	var frame wsFrame
	if err := json.NewDecoder(conn).Decode(&frame); err == nil {
		t.Fatalf("expected the connection to be closed, got frame %+v", frame)
	}
}
