// Package permission compiles allow-patterns into an authorization
// predicate for unattended tool execution.
//
// Pattern syntax:
//
//	*                  all tools of any loaded integration
//	mail:              all tools of the mail integration (trailing colon)
//	mail:send          one integration tool
//	mail:send_*        integration tool wildcard (trailing * only)
//	Bash               a builtin tool, matched literally
//
// Builtin tools are only ever authorized by an exact name entry; "*" and
// integration-scoped patterns never cover them. An unmatched request is
// denied.
package permission

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPattern indicates a malformed allow entry, rejected at compile
// time rather than at dispatch time.
var ErrInvalidPattern = errors.New("invalid permission pattern")

// Request is one runtime authorization question. An empty Integration
// means the tool is a builtin.
type Request struct {
	Integration string
	Tool        string
}

const (
	kindAllIntegrations = iota
	kindIntegrationAll
	kindIntegrationTool
	kindBuiltinTool
)

type compiled struct {
	kind        int
	integration string
	selector    string // integrationTool: literal or trailing-* glob
}

// Matcher is the compiled form of an allow-pattern list. It is stateless
// after compilation and safe for concurrent use.
type Matcher struct {
	entries []compiled
	raw     []string
}

// Compile parses raw allow-patterns. An empty list compiles to a matcher
// that denies every request.
func Compile(patterns []string) (*Matcher, error) {
	m := &Matcher{raw: append([]string(nil), patterns...)}
	for _, p := range patterns {
		entry, err := compileOne(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		m.entries = append(m.entries, entry)
	}
	return m, nil
}

func compileOne(p string) (compiled, error) {
	if p == "" {
		return compiled{}, fmt.Errorf("%w: empty entry", ErrInvalidPattern)
	}
	if p == "*" {
		return compiled{kind: kindAllIntegrations}, nil
	}

	name, selector, scoped := strings.Cut(p, ":")
	if !scoped {
		if strings.Contains(p, "*") {
			return compiled{}, fmt.Errorf("%w: %q (builtin tool names are literal)", ErrInvalidPattern, p)
		}
		return compiled{kind: kindBuiltinTool, selector: p}, nil
	}

	if name == "" || strings.Contains(name, "*") {
		return compiled{}, fmt.Errorf("%w: %q (missing integration name)", ErrInvalidPattern, p)
	}
	if selector == "" {
		return compiled{kind: kindIntegrationAll, integration: name}, nil
	}
	if i := strings.Index(selector, "*"); i >= 0 && i != len(selector)-1 {
		return compiled{}, fmt.Errorf("%w: %q (only a trailing * is supported)", ErrInvalidPattern, p)
	}
	return compiled{kind: kindIntegrationTool, integration: name, selector: selector}, nil
}

// Allows reports whether the request is pre-authorized. Fail closed: no
// matching entry means denial, which downstream treats as "interactive
// confirmation required".
func (m *Matcher) Allows(req Request) bool {
	if req.Integration == "" {
		for _, e := range m.entries {
			if e.kind == kindBuiltinTool && e.selector == req.Tool {
				return true
			}
		}
		return false
	}
	for _, e := range m.entries {
		switch e.kind {
		case kindAllIntegrations:
			return true
		case kindIntegrationAll:
			if e.integration == req.Integration {
				return true
			}
		case kindIntegrationTool:
			if e.integration == req.Integration && matchSelector(req.Tool, e.selector) {
				return true
			}
		}
	}
	return false
}

// Raw returns the uncompiled pattern strings the matcher was built from.
func (m *Matcher) Raw() []string {
	return append([]string(nil), m.raw...)
}

func matchSelector(name, pattern string) bool {
	if pattern == name {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	}
	return false
}
