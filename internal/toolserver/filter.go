// Package toolserver wires the teacher's generic MCP client (internal/mcp)
// into spec.md §4.10's external tool-server surface: discovery populates a
// cache annotated with a derived requires_approval, and invocation is
// routed through a per-server ToolFilter/ToolApprovalPolicy before the
// call reaches the wire.
package toolserver

// FilterMode selects whether Tools is an allowlist or a blocklist.
type FilterMode string

const (
	FilterInclude FilterMode = "include"
	FilterExclude FilterMode = "exclude"
)

// ToolFilter restricts which of a server's discovered tools are usable at
// all, independent of approval.
type ToolFilter struct {
	Mode               FilterMode
	Tools              []string
	AllowAllReadOnly   bool
	BlockAllModifying  bool
}

// Allows reports whether toolName passes the filter, given an optional
// read-only hint from the server's tool metadata.
func (f *ToolFilter) Allows(toolName string, readOnlyHint *bool) bool {
	if f == nil {
		return true
	}

	if f.AllowAllReadOnly && readOnlyHint != nil && *readOnlyHint {
		return true
	}
	if f.BlockAllModifying && readOnlyHint != nil && !*readOnlyHint {
		return false
	}

	inList := contains(f.Tools, toolName)
	switch f.Mode {
	case FilterExclude:
		return !inList
	default: // FilterInclude
		return len(f.Tools) == 0 || inList
	}
}

// GlobalApprovalPolicy is the coarse-grained switch in ToolApprovalPolicy.
type GlobalApprovalPolicy string

const (
	GlobalAlways GlobalApprovalPolicy = "always"
	GlobalNever  GlobalApprovalPolicy = "never"
	GlobalByTool GlobalApprovalPolicy = "by_tool"
)

// ToolOverride pins requires_approval for a specific tool name or glob
// pattern. When multiple overrides match, the last one in the list wins.
type ToolOverride struct {
	Pattern         string
	RequiresApproval bool
	IsGlob          bool
}

// ToolApprovalPolicy derives requires_approval for a discovered tool,
// mirroring the precedence order: global always/never short-circuits,
// then the read-only/modifying hints, then overrides (last match wins);
// a tool no override matches does not require approval. A nil policy
// always requires approval.
type ToolApprovalPolicy struct {
	Global                       GlobalApprovalPolicy
	Overrides                    []ToolOverride
	ReadOnlyNeverRequiresApproval bool
	ModifyingAlwaysRequiresApproval bool
}

// RequiresApproval evaluates the policy for one tool call.
func (p *ToolApprovalPolicy) RequiresApproval(toolName string, readOnlyHint *bool) bool {
	if p == nil {
		return true
	}

	switch p.Global {
	case GlobalAlways:
		return true
	case GlobalNever:
		return false
	}

	if p.ReadOnlyNeverRequiresApproval && readOnlyHint != nil && *readOnlyHint {
		return false
	}
	if p.ModifyingAlwaysRequiresApproval && readOnlyHint != nil && !*readOnlyHint {
		return true
	}

	result := false
	matched := false
	for _, o := range p.Overrides {
		var matches bool
		if o.IsGlob {
			matches = globMatch(o.Pattern, toolName)
		} else {
			matches = o.Pattern == toolName
		}
		if matches {
			result = o.RequiresApproval
			matched = true
		}
	}
	if matched {
		return result
	}
	return false
}

// globMatch supports '*' (any sequence) and '?' (any single rune).
func globMatch(pattern, text string) bool {
	p := []rune(pattern)
	t := []rune(text)
	return globMatchRunes(p, t)
}

func globMatchRunes(p, t []rune) bool {
	if len(p) == 0 {
		return len(t) == 0
	}
	switch p[0] {
	case '*':
		if len(p) == 1 {
			return true
		}
		for i := 0; i <= len(t); i++ {
			if globMatchRunes(p[1:], t[i:]) {
				return true
			}
		}
		return false
	case '?':
		if len(t) == 0 {
			return false
		}
		return globMatchRunes(p[1:], t[1:])
	default:
		if len(t) == 0 || t[0] != p[0] {
			return false
		}
		return globMatchRunes(p[1:], t[1:])
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
