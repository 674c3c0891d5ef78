package server

import (
	"context"
	"sync"

	"github.com/louisbranch/polyglot.chat/internal/services/relay/lang"
)

// handleMessage fans one inbound chat message out to every visible session.
//
// The sender receives the untranslated original; every other recipient
// receives a copy translated to its own language. The visible set is
// snapshotted once, so sessions that appear mid-delivery are skipped and
// sessions that vanish fail a single write silently. Per-recipient
// translations run concurrently, but the call returns only when every
// delivery has settled, which keeps one sender's messages in submission
// order.
func (c *core) handleMessage(ctx context.Context, senderConnID string, text string) {
	sender, ok := c.registry.get(senderConnID)
	if !ok || !sender.visible() {
		return
	}

	// Sending counts as liveness.
	_ = c.registry.touchHeartbeat(senderConnID)

	originalLanguage := lang.DisplayNameForCode(sender.LanguageCode)
	recipients := c.registry.snapshotVisible()

	var wg sync.WaitGroup
	for _, recipient := range recipients {
		wg.Add(1)
		go func(recipient session) {
			defer wg.Done()

			message := text
			own := recipient.ConnID == sender.ConnID
			if !own {
				message = c.gateway.Translate(ctx, text, recipient.LanguageCode)
			}
			_ = recipient.peer.writeFrame(wsFrame{
				Type: "receive_message",
				Payload: mustJSON(receiveMessagePayload{
					Nickname:         sender.Nickname,
					Message:          message,
					OriginalLanguage: originalLanguage,
					IsOwnMessage:     own,
				}),
			})
		}(recipient)
	}
	wg.Wait()
}
