package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/louisbranch/polyglot.chat/internal/services/relay/lang"
	"github.com/louisbranch/polyglot.chat/internal/services/relay/translate"
)

// core owns the registry and the translation gateway and implements the
// presence and fan-out semantics on top of them. The transport layer calls
// into it; it never touches the websocket directly, only peers.
type core struct {
	registry *registry
	gateway  *translate.Gateway
}

func newCore(gateway *translate.Gateway) *core {
	return &core{
		registry: newRegistry(),
		gateway:  gateway,
	}
}

// visibleList builds the roster payload from a point-in-time snapshot.
// Languages are reported by their native display names.
func (c *core) visibleList() userListPayload {
	visible := c.registry.snapshotVisible()
	users := make([]userListEntry, 0, len(visible))
	for _, s := range visible {
		users = append(users, userListEntry{
			Nickname: s.Nickname,
			Language: lang.DisplayNameForCode(s.LanguageCode),
			UserID:   s.UserID,
		})
	}
	return userListPayload{Users: users}
}

// sendUserList delivers the current roster to a single connection.
func (c *core) sendUserList(p *peer) {
	_ = p.writeFrame(wsFrame{
		Type:    "user_list_update",
		Payload: mustJSON(c.visibleList()),
	})
}

// broadcastUserList pushes the roster to every registered connection,
// identified or not, so clients can render the room before picking a
// nickname.
func (c *core) broadcastUserList() {
	frame := wsFrame{
		Type:    "user_list_update",
		Payload: mustJSON(c.visibleList()),
	}
	for _, s := range c.registry.snapshotAll() {
		_ = s.peer.writeFrame(frame)
	}
}

func joinedBody(nickname string) string {
	return fmt.Sprintf("%s joined the chat.", nickname)
}

func leftBody(nickname string) string {
	return fmt.Sprintf("%s left the chat.", nickname)
}

func lostConnectionBody(nickname string) string {
	return fmt.Sprintf("%s lost connection.", nickname)
}

// announcePresence delivers a join or leave system message about subject to
// every other visible session, each copy translated to its recipient's own
// language. Deliveries are independent: one failed translation or vanished
// peer never blocks the rest.
func (c *core) announcePresence(ctx context.Context, frameType string, subject session, body string) {
	recipients := c.registry.snapshotVisible()

	var wg sync.WaitGroup
	for _, recipient := range recipients {
		if recipient.ConnID == subject.ConnID {
			continue
		}
		wg.Add(1)
		go func(recipient session) {
			defer wg.Done()
			translated := c.gateway.Translate(ctx, body, recipient.LanguageCode)
			_ = recipient.peer.writeFrame(wsFrame{
				Type: frameType,
				Payload: mustJSON(presencePayload{
					Message:  translated,
					Nickname: subject.Nickname,
					User: presenceUser{
						Nickname: subject.Nickname,
						Language: subject.LanguageCode,
					},
				}),
			})
		}(recipient)
	}
	wg.Wait()
}

// setIdentity promotes a session to visible. Unknown connections are a
// no-op. The caller acks the setter before announceJoin fires, so the
// client sees its confirmation ahead of the roster broadcast.
func (c *core) setIdentity(connID string, nickname string, language lang.Language) (session, error) {
	return c.registry.setIdentity(connID, nickname, language.Code)
}

// announceJoin tells every other visible session about the newly-identified
// participant and rebroadcasts the roster.
func (c *core) announceJoin(ctx context.Context, joined session) {
	c.announcePresence(ctx, "user_joined", joined, joinedBody(joined.Nickname))
	c.broadcastUserList()
}

// disconnect removes the session and, when it was visible, announces the
// departure. The body distinguishes clean leaves from heartbeat evictions.
func (c *core) disconnect(ctx context.Context, connID string, body func(nickname string) string) bool {
	removed, ok := c.registry.remove(connID)
	if !ok {
		return false
	}
	if removed.visible() {
		c.announcePresence(ctx, "user_left", removed, body(removed.Nickname))
	}
	c.broadcastUserList()
	return true
}
