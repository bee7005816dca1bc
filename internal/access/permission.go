// Package access computes and caches the effective permission set a
// principal holds within a tenant, and provides the canonical permission
// matcher used by every guarded route. Permission strings are colon-scoped
// tokens ("tenant:read", "operations:initiate"); a trailing "*" grants every
// permission sharing its prefix.
package access

import (
	"sort"
	"strings"
)

// Token is the normalized representation of one permission grant, tagged as
// either an exact token or a prefix wildcard. All wildcard matching in the
// system goes through this type; routes never compare permission strings
// ad hoc.
type Token struct {
	Value  string
	Prefix bool
}

// ParseToken normalizes a permission string into a Token. A trailing "*"
// produces a prefix variant ("tenant:*" matches everything starting with
// "tenant:"); anything else is exact.
func ParseToken(s string) Token {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "*") {
		return Token{Value: strings.TrimSuffix(s, "*"), Prefix: true}
	}
	return Token{Value: s}
}

// Matches reports whether this grant satisfies the required permission.
func (t Token) Matches(required string) bool {
	if t.Prefix {
		return strings.HasPrefix(required, t.Value)
	}
	return t.Value == required
}

// String reconstitutes the permission string form.
func (t Token) String() string {
	if t.Prefix {
		return t.Value + "*"
	}
	return t.Value
}

// Set is an effective permission set with exact tokens indexed for O(1)
// lookup and prefix tokens scanned linearly (there are few of them).
type Set struct {
	exact    map[string]struct{}
	prefixes []string
}

// NewSet builds a Set from permission strings, deduplicating as it goes.
func NewSet(perms ...string) Set {
	s := Set{exact: make(map[string]struct{}, len(perms))}
	seen := make(map[string]struct{}, 4)
	for _, p := range perms {
		t := ParseToken(p)
		if t.Value == "" && !t.Prefix {
			continue
		}
		if t.Prefix {
			if _, ok := seen[t.Value]; ok {
				continue
			}
			seen[t.Value] = struct{}{}
			s.prefixes = append(s.prefixes, t.Value)
		} else {
			s.exact[t.Value] = struct{}{}
		}
	}
	return s
}

// Has implements the canonical check: exact match, or any wildcard entry
// whose prefix is a prefix of required.
func (s Set) Has(required string) bool {
	if _, ok := s.exact[required]; ok {
		return true
	}
	for _, prefix := range s.prefixes {
		if strings.HasPrefix(required, prefix) {
			return true
		}
	}
	return false
}

// List returns the set's permission strings, sorted, for serialization.
func (s Set) List() []string {
	out := make([]string, 0, len(s.exact)+len(s.prefixes))
	for v := range s.exact {
		out = append(out, v)
	}
	for _, p := range s.prefixes {
		out = append(out, p+"*")
	}
	sort.Strings(out)
	return out
}
