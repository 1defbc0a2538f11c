package machine

import (
	"fmt"

	"github.com/google/uuid"
)

type AccessLevel uint8

const (
	AccessPublic AccessLevel = iota
	AccessTeam
	AccessPrivate

	accessLevelCount
)

func (a AccessLevel) String() string {
	switch a {
	case AccessPublic:
		return "public"
	case AccessTeam:
		return "team"
	case AccessPrivate:
		return "private"
	default:
		return fmt.Sprintf("access(%d)", uint8(a))
	}
}

func ParseAccessLevel(s string) (AccessLevel, bool) {
	for a := AccessPublic; a < accessLevelCount; a++ {
		if a.String() == s {
			return a, true
		}
	}
	return AccessPublic, false
}

// Security records who owns a machine and who may open it.
// A zero Owner means unclaimed.
type Security struct {
	Owner  uuid.UUID
	Access AccessLevel
}

// TryClaim sets the owner if the machine is unclaimed.
func (s *Security) TryClaim(id uuid.UUID) bool {
	if s.Owner != uuid.Nil || id == uuid.Nil {
		return false
	}
	s.Owner = id
	return true
}

func (s Security) IsOwner(id uuid.UUID) bool {
	return s.Owner != uuid.Nil && s.Owner == id
}

// HasAccess reports whether id may open the menu. Teams are not modelled, so
// team access is owner-only.
func (s Security) HasAccess(id uuid.UUID) bool {
	switch s.Access {
	case AccessPublic:
		return true
	default:
		return s.IsOwner(id)
	}
}
