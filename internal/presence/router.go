// Package presence tracks which identities have live sessions on this node
// and routes realtime payloads to them. Routing is keyed by identity, never
// by connection, so an identity with several devices receives a payload on
// every device and a payload for an offline identity is dropped without
// error. Delivery is at-most-once; the canonical message log is the source
// of truth for catch-up reads.
package presence

import (
	"log"
	"sync"

	"github.com/pawmatch/match-app/internal/identity"
	"github.com/pawmatch/match-app/internal/message"
	"github.com/pawmatch/match-app/internal/metrics"
	"github.com/pawmatch/match-app/internal/protocol"
)

// Session is one live connection bound to an identity. Send must be safe for
// concurrent use and should bound its own write time; a Send error marks the
// payload as dropped for that session only.
type Session interface {
	SessionID() string
	Send(data []byte) error
}

// Bridge is the cross-node transport for deliveries and lifecycle events.
// *messaging.NATSClient satisfies it.
type Bridge interface {
	PublishDeliver(identity string, data []byte) error
	SubscribeDeliver(identity string, handler func(data []byte)) error
	UnsubscribeDeliver(identity string) error
	PublishEvent(identity string, data []byte) error
	SubscribeEvent(identity string, handler func(data []byte)) error
	UnsubscribeEvent(identity string) error
}

// Router is the per-node presence registry. With a bridge attached, payloads
// travel through NATS so every node hosting the recipient delivers them;
// without one, delivery is local to this node.
type Router struct {
	mu       sync.RWMutex
	sessions map[identity.ID]map[string]Session
	bridge   Bridge
}

// NewRouter creates a Router. bridge may be nil for single-node operation.
func NewRouter(bridge Bridge) *Router {
	return &Router{
		sessions: make(map[identity.ID]map[string]Session),
		bridge:   bridge,
	}
}

// Register binds a session to an identity and returns a release function.
// The release function is idempotent and must be called when the session
// ends. The first session for an identity subscribes this node to the
// identity's NATS channels; the last release unsubscribes.
func (r *Router) Register(id identity.ID, s Session) func() {
	// The bridge subscribe happens under the same lock as the session map
	// transition, so a concurrent release for the identity cannot tear down
	// the subscription this registration depends on.
	r.mu.Lock()
	set, ok := r.sessions[id]
	if !ok {
		set = make(map[string]Session)
		r.sessions[id] = set
		metrics.OnlineIdentities.Inc()
	}
	set[s.SessionID()] = s

	if !ok && r.bridge != nil {
		if err := r.bridge.SubscribeDeliver(string(id), func(data []byte) {
			r.deliverLocal(id, data)
		}); err != nil {
			log.Printf("[presence] deliver subscribe failed for %s: %v", id, err)
		}
		if err := r.bridge.SubscribeEvent(string(id), func(data []byte) {
			r.deliverLocal(id, data)
		}); err != nil {
			log.Printf("[presence] event subscribe failed for %s: %v", id, err)
		}
	}
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.release(id, s.SessionID()) })
	}
}

func (r *Router) release(id identity.ID, sessionID string) {
	r.mu.Lock()
	set, ok := r.sessions[id]
	last := false
	if ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(r.sessions, id)
			metrics.OnlineIdentities.Dec()
			last = true
		}
	}

	// Unsubscribe while still holding the lock: if this ran after
	// unlocking, a racing Register could subscribe in between and lose
	// its fresh subscription to this teardown.
	if last && r.bridge != nil {
		if err := r.bridge.UnsubscribeDeliver(string(id)); err != nil {
			log.Printf("[presence] deliver unsubscribe failed for %s: %v", id, err)
		}
		if err := r.bridge.UnsubscribeEvent(string(id)); err != nil {
			log.Printf("[presence] event unsubscribe failed for %s: %v", id, err)
		}
	}
	r.mu.Unlock()
}

// Online reports whether the identity has at least one session on this node.
func (r *Router) Online(id identity.ID) bool {
	r.mu.RLock()
	_, ok := r.sessions[id]
	r.mu.RUnlock()
	return ok
}

// OnlineCount returns the number of distinct identities with sessions on
// this node.
func (r *Router) OnlineCount() int {
	r.mu.RLock()
	n := len(r.sessions)
	r.mu.RUnlock()
	return n
}

// Publish routes a committed-message payload to every session of the
// identity. With a bridge, the payload goes through NATS so all nodes
// deliver it; the local subscription handles this node's sessions.
func (r *Router) Publish(id identity.ID, data []byte) {
	if r.bridge != nil {
		if err := r.bridge.PublishDeliver(string(id), data); err != nil {
			log.Printf("[presence] nats publish failed for %s, delivering locally: %v", id, err)
			r.deliverLocal(id, data)
		}
		return
	}
	r.deliverLocal(id, data)
}

// PublishEvent routes a lifecycle event (match, unmatch, typing) the same
// way Publish routes messages.
func (r *Router) PublishEvent(id identity.ID, data []byte) {
	if r.bridge != nil {
		if err := r.bridge.PublishEvent(string(id), data); err != nil {
			log.Printf("[presence] nats event publish failed for %s, delivering locally: %v", id, err)
			r.deliverLocal(id, data)
		}
		return
	}
	r.deliverLocal(id, data)
}

// deliverLocal writes the payload to every local session of the identity.
// Send errors drop the payload for that session only.
func (r *Router) deliverLocal(id identity.ID, data []byte) {
	r.mu.RLock()
	set := r.sessions[id]
	targets := make([]Session, 0, len(set))
	for _, s := range set {
		targets = append(targets, s)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if err := s.Send(data); err != nil {
			metrics.MessagesTotal.WithLabelValues("dropped").Inc()
			log.Printf("[presence] send failed identity=%s session=%s: %v", id, s.SessionID(), err)
			continue
		}
		delivered++
	}
	if delivered > 0 {
		metrics.MessagesTotal.WithLabelValues("delivered").Add(float64(delivered))
	}
	metrics.DeliveryFanout.Observe(float64(delivered))
}

// MessageCommitted routes a freshly committed message to its recipient's
// sessions. It satisfies the message service's notifier hook.
func (r *Router) MessageCommitted(m *message.Message) {
	data, err := protocol.NewServerMessage(protocol.TypeServerMessage, protocol.ServerChatMsg{
		MessageID: m.ID.String(),
		Seq:       m.Seq,
		SenderID:  string(m.Sender),
		Body:      m.Body,
		Ts:        m.CreatedAt.Unix(),
	})
	if err != nil {
		log.Printf("[presence] build delivery for %s failed: %v", m.ID, err)
		return
	}
	r.Publish(m.Recipient, data)
}

// NotifyMatch tells both parties that a match edge now exists.
func (r *Router) NotifyMatch(a, b identity.ID) {
	r.notifyEdge(protocol.TypeMatch, a, b)
}

// NotifyUnmatch tells both parties that their match edge was removed.
func (r *Router) NotifyUnmatch(a, b identity.ID) {
	r.notifyEdge(protocol.TypeUnmatch, a, b)
}

func (r *Router) notifyEdge(msgType string, a, b identity.ID) {
	for _, pair := range [][2]identity.ID{{a, b}, {b, a}} {
		to, peer := pair[0], pair[1]
		var payload interface{} = protocol.MatchMsg{PeerID: string(peer)}
		if msgType == protocol.TypeUnmatch {
			payload = protocol.UnmatchMsg{PeerID: string(peer)}
		}
		data, err := protocol.NewServerMessage(msgType, payload)
		if err != nil {
			log.Printf("[presence] build %s for %s failed: %v", msgType, to, err)
			continue
		}
		r.PublishEvent(to, data)
	}
}

// NotifyTyping relays a typing indicator from one identity to another.
func (r *Router) NotifyTyping(from, to identity.ID, isTyping bool) {
	data, err := protocol.NewServerMessage(protocol.TypeServerTyping, protocol.ServerTypingMsg{
		PeerID:   string(from),
		IsTyping: isTyping,
	})
	if err != nil {
		log.Printf("[presence] build typing for %s failed: %v", to, err)
		return
	}
	r.PublishEvent(to, data)
}
