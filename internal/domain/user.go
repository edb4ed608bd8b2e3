// Package domain holds identities, room names and the call session lifecycle.
package domain

import (
	"strings"
)

const MaxUserIDLen = 64

type UserID string

type Role string

const (
	// RoleUser is the customer side of a session.
	RoleUser       Role = "user"
	RoleAstrologer Role = "astrologer"
)

// ParseRole accepts the wire spellings of a role. "customer" is an alias of "user".
func ParseRole(raw string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "user", "customer":
		return RoleUser, nil
	case "astrologer":
		return RoleAstrologer, nil
	}
	return "", ErrInvalidRole
}

// Identity is what a connection claims to be after authenticate.
type Identity struct {
	ID   UserID `json:"userId"`
	Role Role   `json:"userType"`
}

// NewIdentity is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewIdentity(id, role string) (Identity, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Identity{}, ErrEmptyUserID
	}
	if len(id) > MaxUserIDLen {
		return Identity{}, ErrUserIDTooLong
	}
	r, err := ParseRole(role)
	if err != nil {
		return Identity{}, err
	}
	return Identity{ID: UserID(id), Role: r}, nil
}

func (i Identity) IsZero() bool { return i.ID == "" }
