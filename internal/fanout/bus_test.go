package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/ent0n29/proctorwatch/internal/detection"
	"github.com/ent0n29/proctorwatch/internal/protocol"
	"github.com/ent0n29/proctorwatch/internal/session"
)

func runBus(t *testing.T, cfg Config) *Bus {
	t.Helper()
	b := NewBus(cfg, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.Run(ctx)
	return b
}

func recv(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
	}
	return Message{}
}

func TestSubscriberJoinedBeforeReceives(t *testing.T) {
	b := runBus(t, Config{})
	early, leave := b.Subscribe("s1")
	defer leave()

	n := NewNotifier(b)
	n.EventAccepted(
		detection.Event{ID: "e1", SessionID: "s1", Kind: detection.KindNoFace},
		session.Session{ID: "s1", Tally: session.Tally{IntegrityScore: 95}},
	)

	alert := recv(t, early)
	if alert.Type != string(protocol.TypeViolationAlert) {
		t.Fatalf("first message type = %q, want violation_alert", alert.Type)
	}
	score := recv(t, early)
	update, ok := score.Payload.(protocol.ScoreUpdate)
	if !ok || update.IntegrityScore != 95 {
		t.Fatalf("score payload = %#v", score.Payload)
	}

	late, leaveLate := b.Subscribe("s1")
	defer leaveLate()
	select {
	case msg := <-late:
		t.Fatalf("late subscriber received prior message %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	b := runBus(t, Config{})
	other, leave := b.Subscribe("s2")
	defer leave()
	mine, leaveMine := b.Subscribe("s1")
	defer leaveMine()

	b.Publish("s1", "system_event", "hello")
	recv(t, mine)
	select {
	case msg := <-other:
		t.Fatalf("other room received %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := runBus(t, Config{SubscriberBuffer: 1})
	slow, leaveSlow := b.Subscribe("s1")
	defer leaveSlow()
	fast, leaveFast := b.Subscribe("s1")
	defer leaveFast()

	for i := 0; i < 5; i++ {
		b.Publish("s1", "system_event", i)
		recv(t, fast)
	}
	if got := len(slow); got != 1 {
		t.Fatalf("slow subscriber buffered = %d, want 1", got)
	}
}

func TestPublishDropsWhenQueueFull(t *testing.T) {
	b := NewBus(Config{QueueSize: 1}, nil, nil) // no dispatcher running
	if !b.Publish("s1", "system_event", 1) {
		t.Fatalf("first Publish() = false, want true")
	}
	if b.Publish("s1", "system_event", 2) {
		t.Fatalf("second Publish() = true, want false")
	}
}

func TestUnsubscribeRemovesRoom(t *testing.T) {
	b := NewBus(Config{}, nil, nil)
	ch, leave := b.Subscribe("s1")
	if b.Subscribers("s1") != 1 {
		t.Fatalf("Subscribers() = %d, want 1", b.Subscribers("s1"))
	}
	leave()
	leave()
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after leave")
	}
	if b.Subscribers("s1") != 0 {
		t.Fatalf("Subscribers() = %d, want 0", b.Subscribers("s1"))
	}
}

func TestSubscribeEmptyRoomIsClosed(t *testing.T) {
	b := NewBus(Config{}, nil, nil)
	ch, leave := b.Subscribe("  ")
	defer leave()
	if _, ok := <-ch; ok {
		t.Fatalf("empty room channel should be closed")
	}
}
