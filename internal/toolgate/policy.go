// Package toolgate implements the tool registry and the human-in-the-loop
// approval gate of spec.md §4.7: tools are classified, dispatch is
// chokepointed through an allowlist check, and mutating/delegation calls
// suspend the calling worker on a per-request completion signal until the
// UI resolves the pending ApprovalRequest.
package toolgate

import (
	"strings"

	"github.com/ifBars/orchestrix/internal/domain"
)

// Policy configures which tool classes auto-approve for a run, mirroring
// the precedence chain of the teacher's ApprovalChecker: denylist, then
// allowlist, then a session-scoped allow flag, then classification
// default.
type Policy struct {
	Denylist  []string
	Allowlist []string

	// AllowMutating is the session-scoped allow flag spec.md §4.7 names:
	// once set, mutating/delegation tools auto-approve for the rest of
	// the run without a per-call round trip.
	AllowMutating bool
}

// DefaultPolicy returns a policy that requires approval for every
// mutating or delegation tool call, per spec.md §4.7's default.
func DefaultPolicy() *Policy {
	return &Policy{}
}

// Decision is the outcome of evaluating a tool call against a Policy.
type Decision string

const (
	DecisionAllow            Decision = "allow"
	DecisionDeny             Decision = "deny"
	DecisionRequiresApproval Decision = "requires_approval"
)

// Evaluate classifies toolName and decides whether it may run immediately,
// must be denied outright, or must suspend on the approval gate.
func Evaluate(policy *Policy, toolName string, classification domain.ToolClassification) (Decision, string) {
	if policy == nil {
		policy = DefaultPolicy()
	}

	if matchesAny(policy.Denylist, toolName) {
		return DecisionDeny, "tool in denylist"
	}
	if matchesAny(policy.Allowlist, toolName) {
		return DecisionAllow, "tool in allowlist"
	}

	if classification == domain.ToolReadOnly {
		return DecisionAllow, "read-only tools never require approval"
	}

	if policy.AllowMutating {
		return DecisionAllow, "session-scoped allow flag set"
	}
	return DecisionRequiresApproval, "mutating tool requires approval"
}

// matchesAny reports whether toolName matches any glob-ish pattern in
// patterns: exact match, "prefix*", "*suffix", or the literal wildcard "*".
func matchesAny(patterns []string, toolName string) bool {
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if p == "*" || p == toolName {
			return true
		}
		if strings.HasSuffix(p, "*") && strings.HasPrefix(toolName, p[:len(p)-1]) {
			return true
		}
		if strings.HasPrefix(p, "*") && strings.HasSuffix(toolName, p[1:]) {
			return true
		}
	}
	return false
}
