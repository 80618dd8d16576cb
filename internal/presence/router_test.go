package presence

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pawmatch/match-app/internal/identity"
	"github.com/pawmatch/match-app/internal/message"
)

// fakeSession records every payload sent to it and optionally fails.
type fakeSession struct {
	id   string
	mu   sync.Mutex
	got  [][]byte
	fail bool
}

func newFakeSession(id string) *fakeSession {
	return &fakeSession{id: id}
}

func (f *fakeSession) SessionID() string { return f.id }

func (f *fakeSession) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("write failed")
	}
	f.got = append(f.got, data)
	return nil
}

func (f *fakeSession) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

// fakeBridge models the NATS client's subject-keyed subscriptions: a
// subscribe makes the subject live, an unsubscribe tears it down regardless
// of how many subscribes preceded it.
type fakeBridge struct {
	mu   sync.Mutex
	live map[string]bool
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{live: make(map[string]bool)}
}

func (b *fakeBridge) set(subject string, on bool) {
	b.mu.Lock()
	b.live[subject] = on
	b.mu.Unlock()
}

func (b *fakeBridge) subscribed(subject string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live[subject]
}

func (b *fakeBridge) PublishDeliver(id string, data []byte) error { return nil }
func (b *fakeBridge) PublishEvent(id string, data []byte) error   { return nil }

func (b *fakeBridge) SubscribeDeliver(id string, handler func([]byte)) error {
	b.set("deliver."+id, true)
	return nil
}

func (b *fakeBridge) UnsubscribeDeliver(id string) error {
	b.set("deliver."+id, false)
	return nil
}

func (b *fakeBridge) SubscribeEvent(id string, handler func([]byte)) error {
	b.set("event."+id, true)
	return nil
}

func (b *fakeBridge) UnsubscribeEvent(id string) error {
	b.set("event."+id, false)
	return nil
}

func TestPublish_OfflineIdentityDropsSilently(t *testing.T) {
	r := NewRouter(nil)

	// Must not panic or error with no registered sessions.
	r.Publish(identity.ID("nobody"), []byte(`{"type":"message"}`))
}

func TestRegisterAndPublish(t *testing.T) {
	r := NewRouter(nil)
	s := newFakeSession("conn-1")

	release := r.Register(identity.ID("alice"), s)
	defer release()

	r.Publish(identity.ID("alice"), []byte(`{"type":"message"}`))
	if s.count() != 1 {
		t.Fatalf("expected 1 delivery, got %d", s.count())
	}

	// A different identity's payload must not reach alice.
	r.Publish(identity.ID("bob"), []byte(`{"type":"message"}`))
	if s.count() != 1 {
		t.Fatalf("expected still 1 delivery, got %d", s.count())
	}
}

func TestPublish_MultiDeviceFanout(t *testing.T) {
	r := NewRouter(nil)
	phone := newFakeSession("conn-phone")
	laptop := newFakeSession("conn-laptop")

	rel1 := r.Register(identity.ID("alice"), phone)
	rel2 := r.Register(identity.ID("alice"), laptop)
	defer rel1()
	defer rel2()

	r.Publish(identity.ID("alice"), []byte(`{"type":"message"}`))

	if phone.count() != 1 {
		t.Errorf("phone: expected 1 delivery, got %d", phone.count())
	}
	if laptop.count() != 1 {
		t.Errorf("laptop: expected 1 delivery, got %d", laptop.count())
	}
}

func TestPublish_FailedSessionDoesNotBlockOthers(t *testing.T) {
	r := NewRouter(nil)
	broken := newFakeSession("conn-broken")
	broken.fail = true
	healthy := newFakeSession("conn-healthy")

	rel1 := r.Register(identity.ID("alice"), broken)
	rel2 := r.Register(identity.ID("alice"), healthy)
	defer rel1()
	defer rel2()

	r.Publish(identity.ID("alice"), []byte(`{"type":"message"}`))

	if healthy.count() != 1 {
		t.Errorf("healthy session: expected 1 delivery, got %d", healthy.count())
	}
}

func TestRelease_StopsDelivery(t *testing.T) {
	r := NewRouter(nil)
	s := newFakeSession("conn-1")

	release := r.Register(identity.ID("alice"), s)
	release()

	if r.Online(identity.ID("alice")) {
		t.Fatal("alice still online after release")
	}

	r.Publish(identity.ID("alice"), []byte(`{"type":"message"}`))
	if s.count() != 0 {
		t.Errorf("expected 0 deliveries after release, got %d", s.count())
	}

	// Release must be idempotent.
	release()
}

func TestRelease_OtherDeviceStaysOnline(t *testing.T) {
	r := NewRouter(nil)
	phone := newFakeSession("conn-phone")
	laptop := newFakeSession("conn-laptop")

	relPhone := r.Register(identity.ID("alice"), phone)
	relLaptop := r.Register(identity.ID("alice"), laptop)

	relPhone()

	if !r.Online(identity.ID("alice")) {
		t.Fatal("alice should still be online via laptop")
	}

	r.Publish(identity.ID("alice"), []byte(`{"type":"message"}`))
	if phone.count() != 0 {
		t.Errorf("released phone got %d deliveries", phone.count())
	}
	if laptop.count() != 1 {
		t.Errorf("laptop: expected 1 delivery, got %d", laptop.count())
	}

	relLaptop()
	if r.Online(identity.ID("alice")) {
		t.Fatal("alice online after all sessions released")
	}
}

func TestOnlineCount(t *testing.T) {
	r := NewRouter(nil)

	if r.OnlineCount() != 0 {
		t.Fatalf("expected 0 online, got %d", r.OnlineCount())
	}

	rel1 := r.Register(identity.ID("alice"), newFakeSession("c1"))
	rel2 := r.Register(identity.ID("alice"), newFakeSession("c2"))
	rel3 := r.Register(identity.ID("bob"), newFakeSession("c3"))

	if r.OnlineCount() != 2 {
		t.Fatalf("expected 2 online identities, got %d", r.OnlineCount())
	}

	rel1()
	rel2()
	rel3()

	if r.OnlineCount() != 0 {
		t.Fatalf("expected 0 online after releases, got %d", r.OnlineCount())
	}
}

func TestRegister_FirstSessionSubscribesLastReleaseUnsubscribes(t *testing.T) {
	b := newFakeBridge()
	r := NewRouter(b)

	rel1 := r.Register(identity.ID("alice"), newFakeSession("c1"))
	if !b.subscribed("deliver.alice") || !b.subscribed("event.alice") {
		t.Fatal("first session did not subscribe alice's channels")
	}

	rel2 := r.Register(identity.ID("alice"), newFakeSession("c2"))
	rel1()
	if !b.subscribed("deliver.alice") {
		t.Fatal("subscription dropped while a session is still live")
	}

	rel2()
	if b.subscribed("deliver.alice") || b.subscribed("event.alice") {
		t.Fatal("subscription left after last release")
	}
}

func TestRegisterRelease_SubscriptionSurvivesChurn(t *testing.T) {
	b := newFakeBridge()
	r := NewRouter(b)
	id := identity.ID("alice")

	// Hammer register/release on one identity while another registration
	// arrives mid-churn. The surviving session's subscription must not be
	// torn down by a release that raced it.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				rel := r.Register(id, newFakeSession(fmt.Sprintf("conn-%d-%d", n, j)))
				rel()
			}
		}(i)
	}
	keep := r.Register(id, newFakeSession("conn-keep"))
	wg.Wait()

	if !r.Online(id) {
		t.Fatal("alice should be online via conn-keep")
	}
	if !b.subscribed("deliver." + string(id)) {
		t.Fatal("alice online but deliver subscription is gone")
	}
	if !b.subscribed("event." + string(id)) {
		t.Fatal("alice online but event subscription is gone")
	}

	keep()
	if b.subscribed("deliver." + string(id)) {
		t.Fatal("subscription left after last release")
	}
}

func TestMessageCommitted_DeliversToRecipient(t *testing.T) {
	r := NewRouter(nil)
	recipient := newFakeSession("conn-r")
	sender := newFakeSession("conn-s")

	rel1 := r.Register(identity.ID("bob"), recipient)
	rel2 := r.Register(identity.ID("alice"), sender)
	defer rel1()
	defer rel2()

	m := &message.Message{
		Seq:       42,
		ID:        uuid.New(),
		Sender:    identity.ID("alice"),
		Recipient: identity.ID("bob"),
		Body:      "hello",
		CreatedAt: time.Now(),
	}
	r.MessageCommitted(m)

	if recipient.count() != 1 {
		t.Fatalf("recipient: expected 1 delivery, got %d", recipient.count())
	}
	if sender.count() != 0 {
		t.Errorf("sender: expected 0 deliveries, got %d", sender.count())
	}

	var payload struct {
		Type      string `json:"type"`
		MessageID string `json:"message_id"`
		Seq       int64  `json:"seq"`
		SenderID  string `json:"sender_id"`
		Body      string `json:"body"`
	}
	recipient.mu.Lock()
	raw := recipient.got[0]
	recipient.mu.Unlock()
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed to decode delivery: %v", err)
	}
	if payload.Type != "message" {
		t.Errorf("type = %q, want %q", payload.Type, "message")
	}
	if payload.MessageID != m.ID.String() {
		t.Errorf("message_id = %q, want %q", payload.MessageID, m.ID.String())
	}
	if payload.Seq != 42 {
		t.Errorf("seq = %d, want 42", payload.Seq)
	}
	if payload.SenderID != "alice" {
		t.Errorf("sender_id = %q, want %q", payload.SenderID, "alice")
	}
	if payload.Body != "hello" {
		t.Errorf("body = %q, want %q", payload.Body, "hello")
	}
}

func TestNotifyMatch_ReachesBothParties(t *testing.T) {
	r := NewRouter(nil)
	alice := newFakeSession("conn-a")
	bob := newFakeSession("conn-b")

	rel1 := r.Register(identity.ID("alice"), alice)
	rel2 := r.Register(identity.ID("bob"), bob)
	defer rel1()
	defer rel2()

	r.NotifyMatch(identity.ID("alice"), identity.ID("bob"))

	if alice.count() != 1 || bob.count() != 1 {
		t.Fatalf("expected 1 event each, got alice=%d bob=%d", alice.count(), bob.count())
	}

	var evt struct {
		Type   string `json:"type"`
		PeerID string `json:"peer_id"`
	}
	alice.mu.Lock()
	raw := alice.got[0]
	alice.mu.Unlock()
	if err := json.Unmarshal(raw, &evt); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	if evt.Type != "match" {
		t.Errorf("type = %q, want %q", evt.Type, "match")
	}
	if evt.PeerID != "bob" {
		t.Errorf("alice's peer_id = %q, want %q", evt.PeerID, "bob")
	}
}

func TestNotifyTyping(t *testing.T) {
	r := NewRouter(nil)
	bob := newFakeSession("conn-b")

	release := r.Register(identity.ID("bob"), bob)
	defer release()

	r.NotifyTyping(identity.ID("alice"), identity.ID("bob"), true)

	if bob.count() != 1 {
		t.Fatalf("expected 1 event, got %d", bob.count())
	}

	var evt struct {
		Type     string `json:"type"`
		PeerID   string `json:"peer_id"`
		IsTyping bool   `json:"is_typing"`
	}
	bob.mu.Lock()
	raw := bob.got[0]
	bob.mu.Unlock()
	if err := json.Unmarshal(raw, &evt); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	if evt.Type != "typing" || evt.PeerID != "alice" || !evt.IsTyping {
		t.Errorf("unexpected event: %+v", evt)
	}
}
