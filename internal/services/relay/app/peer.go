package server

import (
	"encoding/json"
	"sync"
)

// peer serializes frame writes to one connection. Fan-out goroutines share
// the peer, so the encoder must never interleave frames.
type peer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newPeer(encoder *json.Encoder) *peer {
	return &peer{encoder: encoder}
}

func (p *peer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}
