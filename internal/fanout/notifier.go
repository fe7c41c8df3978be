package fanout

import (
	"github.com/ent0n29/proctorwatch/internal/detection"
	"github.com/ent0n29/proctorwatch/internal/protocol"
	"github.com/ent0n29/proctorwatch/internal/session"
)

// Notifier turns domain updates into room messages.
type Notifier struct {
	bus *Bus
}

func NewNotifier(bus *Bus) *Notifier {
	return &Notifier{bus: bus}
}

// EventAccepted publishes the alert followed by the score snapshot that
// includes it.
func (n *Notifier) EventAccepted(ev detection.Event, s session.Session) {
	n.bus.Publish(ev.SessionID, string(protocol.TypeViolationAlert), protocol.NewViolationAlert(ev))
	n.bus.Publish(s.ID, string(protocol.TypeScoreUpdate), protocol.NewScoreUpdate(s))
}

func (n *Notifier) SessionChanged(s session.Session) {
	n.bus.Publish(s.ID, string(protocol.TypeSessionState), protocol.NewSessionState(s))
}
