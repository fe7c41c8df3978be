package detection

import (
	"encoding/json"
	"strings"
	"time"
)

// Kind is the closed set of integrity violations a monitor can report.
type Kind string

const (
	KindNoFace           Kind = "no_face"
	KindFocusLost        Kind = "focus_lost"
	KindMultipleFaces    Kind = "multiple_faces"
	KindMultiplePeople   Kind = "multiple_people"
	KindPhone            Kind = "phone"
	KindUnauthorizedItem Kind = "unauthorized_item"
	KindNotes            Kind = "notes"
	KindDevice           Kind = "device"
	KindNoiseDetected    Kind = "noise_detected"
	KindOther            Kind = "other"
)

// Severity is ordered: info < warning < error == critical.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Event is a persisted detection record. It is never modified after the
// store accepts it.
type Event struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	Seq        int64           `json:"seq"`
	Kind       Kind            `json:"kind"`
	Message    string          `json:"message"`
	Severity   Severity        `json:"severity"`
	OffsetSec  int64           `json:"offset_seconds"`
	Confidence *float64        `json:"confidence,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

func ParseKind(raw string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(raw)))
	switch k {
	case KindNoFace, KindFocusLost, KindMultipleFaces, KindMultiplePeople,
		KindPhone, KindUnauthorizedItem, KindNotes, KindDevice,
		KindNoiseDetected, KindOther:
		return k, true
	default:
		return "", false
	}
}

// ParseSeverity accepts the closed tier names. An empty value means info.
func ParseSeverity(raw string) (Severity, bool) {
	s := Severity(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case "":
		return SeverityInfo, true
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return s, true
	default:
		return "", false
	}
}

// Rank orders severities for comparison; error and critical share a tier.
func (s Severity) Rank() int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityError, SeverityCritical:
		return 2
	default:
		return 0
	}
}

// Suspicious reports whether the severity counts toward the suspicious-event
// counter.
func (s Severity) Suspicious() bool {
	return s.Rank() >= SeverityError.Rank()
}

// Canonical folds alias kinds onto the name the report groups them under.
// Stored events keep the kind the caller sent.
func (k Kind) Canonical() Kind {
	switch k {
	case KindMultiplePeople:
		return KindMultipleFaces
	case KindUnauthorizedItem:
		return KindPhone
	default:
		return k
	}
}

func (e Event) Clone() Event {
	out := e
	if e.Confidence != nil {
		c := *e.Confidence
		out.Confidence = &c
	}
	if e.Metadata != nil {
		out.Metadata = append(json.RawMessage(nil), e.Metadata...)
	}
	return out
}
