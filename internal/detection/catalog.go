package detection

import "strings"

// Profile is the fixed severity and default message a monitor attaches to a
// violation kind.
type Profile struct {
	Severity Severity
	Message  string
}

var profiles = map[Kind]Profile{
	KindNoFace:        {Severity: SeverityError, Message: "No face detected in frame for over 10 seconds"},
	KindFocusLost:     {Severity: SeverityWarning, Message: "Candidate not looking at screen for over 5 seconds"},
	KindMultipleFaces: {Severity: SeverityError, Message: "Multiple faces detected in frame"},
	KindPhone:         {Severity: SeverityError, Message: "Mobile phone detected in frame"},
	KindNotes:         {Severity: SeverityWarning, Message: "Books or notes detected in frame"},
	KindDevice:        {Severity: SeverityError, Message: "Unauthorized electronic device detected"},
	KindNoiseDetected: {Severity: SeverityWarning, Message: "Background noise detected"},
	KindOther:         {Severity: SeverityInfo, Message: "Other activity detected"},
}

// ProfileFor returns the canonical profile for k. Aliases resolve to the
// profile of their canonical kind.
func ProfileFor(k Kind) Profile {
	if p, ok := profiles[k.Canonical()]; ok {
		return p
	}
	return profiles[KindOther]
}

// ObjectClass is a restricted-object category the vision layer can report.
type ObjectClass string

const (
	ObjectPhone  ObjectClass = "phone"
	ObjectNotes  ObjectClass = "notes"
	ObjectDevice ObjectClass = "device"
)

// Kind maps the object class to the violation it raises.
func (c ObjectClass) Kind() Kind {
	switch c {
	case ObjectPhone:
		return KindPhone
	case ObjectNotes:
		return KindNotes
	case ObjectDevice:
		return KindDevice
	default:
		return KindOther
	}
}

var (
	phoneLabels  = []string{"cell phone", "mobile phone"}
	notesLabels  = []string{"book"}
	deviceLabels = []string{"laptop", "tv", "monitor", "tablet", "computer"}
)

// ClassifyLabel maps a raw object-detector label (COCO style) into a
// restricted class. Labels that are not restricted return false.
func ClassifyLabel(label string) (ObjectClass, bool) {
	l := strings.ToLower(strings.TrimSpace(label))
	if l == "" {
		return "", false
	}
	for _, p := range phoneLabels {
		if strings.Contains(l, p) {
			return ObjectPhone, true
		}
	}
	for _, p := range notesLabels {
		if strings.Contains(l, p) {
			return ObjectNotes, true
		}
	}
	for _, p := range deviceLabels {
		if strings.Contains(l, p) {
			return ObjectDevice, true
		}
	}
	return "", false
}
