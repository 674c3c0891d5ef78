package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/louisbranch/polyglot.chat/internal/services/relay/translate"
)

// prefixTranslator tags translations with the target code so tests can tell
// a translated copy from an original.
type prefixTranslator struct{}

func (prefixTranslator) Translate(_ context.Context, text string, targetCode string) (string, error) {
	return "[" + targetCode + "] " + text, nil
}

// failingTranslator always errors, exercising the gateway's fail-open path.
type failingTranslator struct{}

func (failingTranslator) Translate(context.Context, string, string) (string, error) {
	return "", errors.New("translator unavailable")
}

func newTestCore() *core {
	return newCore(translate.NewGateway(prefixTranslator{}, 0))
}

// frameLog is a concurrency-safe sink for peer writes in unit tests.
type frameLog struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *frameLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Write(p)
}

func (l *frameLog) frames(t *testing.T) []wsFrame {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []wsFrame
	decoder := json.NewDecoder(bytes.NewReader(l.buf.Bytes()))
	for {
		var frame wsFrame
		err := decoder.Decode(&frame)
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("decode recorded frame: %v", err)
		}
		out = append(out, frame)
	}
}

func (l *frameLog) framesOfType(t *testing.T, frameType string) []wsFrame {
	t.Helper()
	var out []wsFrame
	for _, frame := range l.frames(t) {
		if frame.Type == frameType {
			out = append(out, frame)
		}
	}
	return out
}

func newRecordedPeer() (*peer, *frameLog) {
	sink := &frameLog{}
	return newPeer(json.NewEncoder(sink)), sink
}

// addSession registers a connection directly against the core, bypassing
// the websocket transport.
func addSession(t *testing.T, c *core, connID string) *frameLog {
	t.Helper()
	p, sink := newRecordedPeer()
	if _, err := c.registry.create(connID, p); err != nil {
		t.Fatalf("create session %s: %v", connID, err)
	}
	return sink
}

func identify(t *testing.T, c *core, connID string, nickname string, languageCode string) {
	t.Helper()
	if _, err := c.registry.setIdentity(connID, nickname, languageCode); err != nil {
		t.Fatalf("identify %s: %v", connID, err)
	}
}
