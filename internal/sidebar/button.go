package sidebar

import (
	"context"

	"go.uber.org/zap"

	"github.com/talonops/talon/internal/document"
	"github.com/talonops/talon/model"
)

// Button is an action control gated by role, such as "new activity" or
// "delete operation".
type Button struct {
	ID      string
	Label   string
	MinRole model.Role
	Action  func(ctx context.Context) error
}

// ButtonState is how a button renders for the current role.
type ButtonState struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Disabled bool   `json:"disabled"`
	// Reason explains why the button is disabled.
	Reason string `json:"reason,omitempty"`
}

// ButtonState returns the rendered state of b for the current role.
func (s *Sidebar) ButtonState(b Button) ButtonState {
	return ButtonStateFor(s.Role(), b)
}

// ButtonStateFor returns the rendered state of b for role.
func ButtonStateFor(role model.Role, b Button) ButtonState {
	st := ButtonState{ID: b.ID, Label: b.Label}
	if !role.AtLeast(b.MinRole) {
		st.Disabled = true
		st.Reason = Reason(b.MinRole)
	}
	return st
}

// Press runs the button's action when the role allows it. A disabled button
// only shows its reason as a toast; invoked is false and the action never
// runs.
func (s *Sidebar) Press(ctx context.Context, b Button) (invoked bool, err error) {
	return s.PressAs(ctx, s.Role(), b)
}

// PressAs is Press for an acting role other than the sidebar's, such as the
// role carried by a driver API caller's token.
func (s *Sidebar) PressAs(ctx context.Context, role model.Role, b Button) (invoked bool, err error) {
	if !role.AtLeast(b.MinRole) {
		reason := Reason(b.MinRole)
		s.metrics.RecordRoleDenial("button")
		s.logger.Info("interaction denied by role",
			zap.String("surface", "button"),
			zap.String("button", b.ID),
			zap.String("role", string(role)),
			zap.String("required", string(b.MinRole)),
		)
		if s.doc != nil {
			s.doc.Toast(document.ToastWarning, reason)
		}
		return false, nil
	}
	if b.Action == nil {
		return true, nil
	}
	return true, b.Action(ctx)
}
