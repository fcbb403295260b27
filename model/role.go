package model

import "strings"

// Role is an opaque user role string resolved by the host page.
type Role string

const (
	RoleGuest          Role = "GUEST"
	RoleVisualizzatore Role = "VISUALIZZATORE"
	RoleOperatore      Role = "OPERATORE"
	RoleAdmin          Role = "ADMIN"
)

// roleLevels is the role hierarchy. Higher levels include lower ones.
var roleLevels = map[Role]int{
	RoleGuest:          0,
	RoleVisualizzatore: 10,
	RoleOperatore:      50,
	RoleAdmin:          100,
}

// ParseRole normalizes s and reports whether it names a known role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := roleLevels[r]
	return r, ok
}

// Level returns the hierarchy level of r. Unknown roles rank as GUEST.
func (r Role) Level() int {
	return roleLevels[r]
}

// AtLeast reports whether r ranks at or above min.
func (r Role) AtLeast(min Role) bool {
	return r.Level() >= min.Level()
}

// Roles returns the known roles ordered by level.
func Roles() []Role {
	return []Role{RoleGuest, RoleVisualizzatore, RoleOperatore, RoleAdmin}
}
