package server

import (
	"context"
	"fmt"
	"log"
	"time"
)

// heartbeatMonitor periodically evicts sessions whose liveness signal went
// stale. It is the safety net for connections that die without a clean
// transport disconnect: a dead participant stays visible for at most
// staleAfter + interval after its last signal.
type heartbeatMonitor struct {
	core       *core
	interval   time.Duration
	staleAfter time.Duration
	backoff    time.Duration
	clock      func() time.Time
}

func newHeartbeatMonitor(c *core, interval time.Duration, staleAfter time.Duration) *heartbeatMonitor {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	return &heartbeatMonitor{
		core:       c,
		interval:   interval,
		staleAfter: staleAfter,
		backoff:    sweepFailureBackoff,
		clock:      time.Now,
	}
}

// run executes sweeps until the context ends. A failing tick is logged and
// followed by a short backoff; it never terminates the loop.
func (m *heartbeatMonitor) run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.tick(ctx); err != nil {
				log.Printf("relay: heartbeat sweep failed: %v", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(m.backoff):
				}
			}
		}
	}
}

func (m *heartbeatMonitor) tick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep panic: %v", r)
		}
	}()

	if evicted := m.sweep(ctx); evicted > 0 {
		log.Printf("relay: evicted %d stale session(s)", evicted)
	}
	return nil
}

// sweep evicts every session whose last heartbeat is older than staleAfter
// and returns the eviction count. Eviction of a visible session produces
// the same leave notifications as a transport disconnect; one roster
// broadcast follows the whole sweep.
func (m *heartbeatMonitor) sweep(ctx context.Context) int {
	now := m.clock()

	var stale []string
	for _, record := range m.core.registry.heartbeats() {
		if now.Sub(record.LastHeartbeat) > m.staleAfter {
			stale = append(stale, record.ConnID)
		}
	}

	evicted := 0
	for _, connID := range stale {
		removed, ok := m.core.registry.remove(connID)
		if !ok {
			// Raced with a transport disconnect; nothing left to do.
			continue
		}
		evicted++
		if removed.visible() {
			m.core.announcePresence(ctx, "user_left", removed, lostConnectionBody(removed.Nickname))
		}
	}

	if evicted > 0 {
		m.core.broadcastUserList()
	}
	return evicted
}
