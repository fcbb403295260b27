package sidebar

import (
	"context"
	"regexp"

	"go.uber.org/zap"

	"github.com/talonops/talon/internal/document"
	"github.com/talonops/talon/internal/storage"
	"github.com/talonops/talon/model"
)

// Session storage key holding the detected role.
const KeyUserRole = "talon_user_role"

// Host page markers consulted during detection.
const (
	RoleMetaName = "user-role"
	RoleAttrName = "data-user-role"
	RoleInputID  = "user-role"
)

// Role sources, in detection priority.
const (
	SourceGlobal  = "global"
	SourceMeta    = "meta"
	SourceAttr    = "attribute"
	SourceInput   = "input"
	SourceSession = "session"
	SourceScript  = "script"
	SourceDefault = "default"
)

var inlineRolePattern = regexp.MustCompile(`(?i)\b(?:user_?role|currentRole)\s*[:=]\s*["']([a-z_]+)["']`)

// RoleSources are the places a role can be read from.
type RoleSources struct {
	// Global is the role injected by the host, e.g. from configuration.
	Global  string
	Doc     *document.Document
	Session storage.Store
	Logger  *zap.Logger
}

// Detection is the outcome of DetectRole.
type Detection struct {
	Role   model.Role
	Source string
}

// DetectRole returns the first known role found in src, in priority order:
// injected global, meta tag, body data attribute, hidden input, session
// storage, inline script assignment, and finally GUEST. Values that do not
// name a known role are skipped. The result is written back to session
// storage.
func DetectRole(ctx context.Context, src RoleSources) Detection {
	logger := src.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	candidates := []struct {
		source string
		value  func() string
	}{
		{SourceGlobal, func() string { return src.Global }},
		{SourceMeta, func() string { return docValue(src.Doc, (*document.Document).Meta, RoleMetaName) }},
		{SourceAttr, func() string { return docValue(src.Doc, (*document.Document).Attr, RoleAttrName) }},
		{SourceInput, func() string { return docValue(src.Doc, (*document.Document).Input, RoleInputID) }},
		{SourceSession, func() string { return sessionRole(ctx, src.Session, logger) }},
		{SourceScript, func() string { return scriptRole(src.Doc) }},
	}

	det := Detection{Role: model.RoleGuest, Source: SourceDefault}
	for _, c := range candidates {
		v := c.value()
		if v == "" {
			continue
		}
		r, ok := model.ParseRole(v)
		if !ok {
			logger.Debug("ignoring unknown role", zap.String("source", c.source), zap.String("value", v))
			continue
		}
		det = Detection{Role: r, Source: c.source}
		break
	}

	if src.Session != nil {
		if err := src.Session.Set(ctx, KeyUserRole, string(det.Role)); err != nil {
			logger.Warn("persisting detected role", zap.Error(err))
		}
	}
	logger.Info("user role detected", zap.String("role", string(det.Role)), zap.String("source", det.Source))
	return det
}

func docValue(doc *document.Document, get func(*document.Document, string) string, name string) string {
	if doc == nil {
		return ""
	}
	return get(doc, name)
}

func sessionRole(ctx context.Context, s storage.Store, logger *zap.Logger) string {
	if s == nil {
		return ""
	}
	v, _, err := s.Get(ctx, KeyUserRole)
	if err != nil {
		logger.Warn("reading stored role", zap.Error(err))
		return ""
	}
	return v
}

func scriptRole(doc *document.Document) string {
	if doc == nil {
		return ""
	}
	for _, src := range doc.InlineSources() {
		if m := inlineRolePattern.FindStringSubmatch(src); m != nil {
			return m[1]
		}
	}
	return ""
}
