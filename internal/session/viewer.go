package session

import (
	"strings"
)

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleObserver  Role = "observer"
	RoleCandidate Role = "candidate"
)

func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case "", RoleAdmin:
		return RoleAdmin, true
	case RoleObserver:
		return RoleObserver, true
	case RoleCandidate:
		return RoleCandidate, true
	}
	return "", false
}

// Viewer is the caller identity used to scope reads. The zero value is an
// unscoped admin.
type Viewer struct {
	Role  Role
	ID    string
	Email string
}

func (v Viewer) role() Role {
	if v.Role == "" {
		return RoleAdmin
	}
	return v.Role
}

// Admin reports whether v sees every session.
func (v Viewer) Admin() bool { return v.role() == RoleAdmin }

// CanSee reports whether s is visible to v.
func (v Viewer) CanSee(s Session) bool {
	switch v.role() {
	case RoleAdmin:
		return true
	case RoleObserver:
		return v.ID != "" && s.ObserverID == v.ID
	case RoleCandidate:
		return v.Email != "" && strings.EqualFold(s.Candidate.Email, v.Email)
	}
	return false
}

// Filter translates the viewer scope into a store query. ok is false when the
// viewer cannot see any session at all.
func (v Viewer) Filter() (ListFilter, bool) {
	switch v.role() {
	case RoleAdmin:
		return ListFilter{}, true
	case RoleObserver:
		return ListFilter{ObserverID: v.ID}, v.ID != ""
	case RoleCandidate:
		return ListFilter{CandidateEmail: v.Email}, v.Email != ""
	}
	return ListFilter{}, false
}
