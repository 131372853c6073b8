package domain

import "strings"

const RoleAdmin = "ADMIN"

// Principal is an authenticated caller resolved by the HTTP boundary.
type Principal struct {
	UserID string
	Roles  []string
}

func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}
