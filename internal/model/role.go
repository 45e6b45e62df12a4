package model

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleManager   Role = "manager"
	RoleAffiliate Role = "affiliate"
	RoleUser      Role = "user"
)

var AllRoles = []Role{RoleAdmin, RoleManager, RoleAffiliate, RoleUser}

func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, raw)
	}
	return role, nil
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleAffiliate, RoleUser:
		return true
	default:
		return false
	}
}

// RoleAllowed reports whether role may pass a gate declaring allowed.
// Admin passes every gate. An empty allowed set admits any valid role.
func RoleAllowed(role Role, allowed []Role) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleManager, RoleAffiliate, RoleUser:
		if len(allowed) == 0 {
			return true
		}
		for _, candidate := range allowed {
			if candidate == role {
				return true
			}
		}
		return false
	default:
		return false
	}
}
