package domain

import "strings"

// Visibility is the access label attached to every ingested chunk.
type Visibility string

// Available visibility labels, least to most restricted.
const (
	VisibilityPublic   Visibility = "public"
	VisibilityLimited  Visibility = "limited"
	VisibilityInternal Visibility = "internal"
)

// IsValid returns true if the visibility label is recognised.
func (v Visibility) IsValid() bool {
	switch v {
	case VisibilityPublic, VisibilityLimited, VisibilityInternal:
		return true
	default:
		return false
	}
}

// String returns the string representation.
func (v Visibility) String() string {
	return string(v)
}

// ParseVisibility parses an ingest-side visibility label.
// Unlike ParseScope it never defaults: an empty label returns
// ErrMissingVisibility and an unknown one ErrInvalidVisibility.
func ParseVisibility(s string) (Visibility, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", ErrMissingVisibility
	}
	v := Visibility(s)
	if !v.IsValid() {
		return "", ErrInvalidVisibility
	}
	return v, nil
}

// VisibilityOf reads the label of a stored item for read-side filtering.
// An absent label is public; an unrecognised one is treated as internal.
func VisibilityOf(label string) Visibility {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return VisibilityPublic
	}
	v := Visibility(label)
	if !v.IsValid() {
		return VisibilityInternal
	}
	return v
}

// Scope is the caller's access level.
type Scope string

// Available scopes.
const (
	ScopePublic   Scope = "public"
	ScopeLimited  Scope = "limited"
	ScopeInternal Scope = "internal"
)

// ParseScope parses a caller scope. Anything unrecognised, including the
// empty string, yields ScopePublic.
func ParseScope(s string) Scope {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeLimited:
		return ScopeLimited
	case ScopeInternal:
		return ScopeInternal
	default:
		return ScopePublic
	}
}

// String returns the string representation.
func (s Scope) String() string {
	return string(s)
}

// AllowedVisibilities returns the labels a caller with this scope may read.
func (s Scope) AllowedVisibilities() []Visibility {
	switch ParseScope(string(s)) {
	case ScopeInternal:
		return []Visibility{VisibilityPublic, VisibilityLimited, VisibilityInternal}
	case ScopeLimited:
		return []Visibility{VisibilityPublic, VisibilityLimited}
	default:
		return []Visibility{VisibilityPublic}
	}
}

// Allows reports whether a stored label is readable under this scope.
func (s Scope) Allows(label string) bool {
	v := VisibilityOf(label)
	for _, allowed := range s.AllowedVisibilities() {
		if v == allowed {
			return true
		}
	}
	return false
}
