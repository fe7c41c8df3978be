package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/proctorwatch/internal/detection"
	"github.com/ent0n29/proctorwatch/internal/session"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeJoinSession    MessageType = "join_session"
	TypeLeaveSession   MessageType = "leave_session"
	TypeViolationAlert MessageType = "violation_alert"
	TypeScoreUpdate    MessageType = "score_update"
	TypeSessionState   MessageType = "session_state"
	TypeSystemEvent    MessageType = "system_event"
	TypeErrorEvent     MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// JoinSession subscribes the connection to a session room.
type JoinSession struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type LeaveSession struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type ViolationAlert struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"session_id"`
	Event     detection.Event `json:"event"`
}

type ScoreUpdate struct {
	Type             MessageType `json:"type"`
	SessionID        string      `json:"session_id"`
	IntegrityScore   int         `json:"integrity_score"`
	FocusLostCount   int         `json:"focus_lost_count"`
	SuspiciousEvents int         `json:"suspicious_events"`
	TotalEvents      int         `json:"total_events"`
}

type SessionState struct {
	Type      MessageType    `json:"type"`
	SessionID string         `json:"session_id"`
	Status    session.Status `json:"status"`
	EndReason string         `json:"end_reason,omitempty"`
	At        time.Time      `json:"at"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func NewViolationAlert(ev detection.Event) ViolationAlert {
	return ViolationAlert{Type: TypeViolationAlert, SessionID: ev.SessionID, Event: ev.Clone()}
}

func NewScoreUpdate(s session.Session) ScoreUpdate {
	return ScoreUpdate{
		Type:             TypeScoreUpdate,
		SessionID:        s.ID,
		IntegrityScore:   s.IntegrityScore,
		FocusLostCount:   s.FocusLostCount,
		SuspiciousEvents: s.SuspiciousEvents,
		TotalEvents:      s.TotalEvents,
	}
}

func NewSessionState(s session.Session) SessionState {
	at := s.LastActivityAt
	if s.EndedAt != nil {
		at = *s.EndedAt
	}
	return SessionState{
		Type:      TypeSessionState,
		SessionID: s.ID,
		Status:    s.Status,
		EndReason: s.EndReason,
		At:        at,
	}
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeJoinSession:
		var msg JoinSession
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.SessionID = strings.TrimSpace(msg.SessionID)
		if msg.SessionID == "" {
			return nil, errors.New("invalid join_session")
		}
		return msg, nil
	case TypeLeaveSession:
		var msg LeaveSession
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.SessionID = strings.TrimSpace(msg.SessionID)
		if msg.SessionID == "" {
			return nil, errors.New("invalid leave_session")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
