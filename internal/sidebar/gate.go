package sidebar

import "github.com/talonops/talon/model"

// Gate decides menu and button visibility for one role.
type Gate struct {
	Role model.Role
}

// Required returns the lowest role allowed to see it.
func Required(it Item) model.Role {
	switch {
	case it.AdminOnly:
		return model.RoleAdmin
	case it.MinRole != "":
		r, _ := model.ParseRole(string(it.MinRole))
		return r
	}
	return model.RoleGuest
}

// EffectiveRequired returns the highest requirement on the path from the
// root of items down to id, so a child inherits a stricter parent.
func EffectiveRequired(items []Item, id string) (model.Role, bool) {
	for _, it := range items {
		req := Required(it)
		if it.ID == id {
			return req, true
		}
		if child, ok := EffectiveRequired(it.Children, id); ok {
			if child.AtLeast(req) {
				return child, true
			}
			return req, true
		}
	}
	return "", false
}

// Visible reports whether the gate's role may see it.
func (g Gate) Visible(it Item) bool {
	return g.Role.AtLeast(Required(it))
}

// Filter returns the visible subtree of items. A hidden parent hides its
// children.
func (g Gate) Filter(items []Item) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if !g.Visible(it) {
			continue
		}
		it.Children = g.Filter(it.Children)
		out = append(out, it)
	}
	return out
}

// Reason is the message shown for an item or button the role cannot use.
func Reason(required model.Role) string {
	return "Requires role " + string(required) + " or higher"
}
