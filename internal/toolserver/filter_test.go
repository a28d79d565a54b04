package toolserver

import "testing"

func boolPtr(b bool) *bool { return &b }

func TestToolFilterIncludeMode(t *testing.T) {
	f := &ToolFilter{Mode: FilterInclude, Tools: []string{"read_file", "list_dir"}}
	if !f.Allows("read_file", nil) || !f.Allows("list_dir", nil) {
		t.Fatal("expected listed tools allowed")
	}
	if f.Allows("write_file", nil) || f.Allows("delete_file", nil) {
		t.Fatal("expected unlisted tools denied under include mode")
	}
}

func TestToolFilterExcludeMode(t *testing.T) {
	f := &ToolFilter{Mode: FilterExclude, Tools: []string{"dangerous_tool"}}
	if !f.Allows("read_file", nil) || !f.Allows("write_file", nil) {
		t.Fatal("expected unlisted tools allowed under exclude mode")
	}
	if f.Allows("dangerous_tool", nil) {
		t.Fatal("expected listed tool denied under exclude mode")
	}
}

func TestToolFilterEmptyIncludeListAllowsAll(t *testing.T) {
	f := &ToolFilter{Mode: FilterInclude}
	if !f.Allows("any_tool", nil) {
		t.Fatal("expected empty include list to allow everything")
	}
}

func TestApprovalPolicyGlobalAlways(t *testing.T) {
	p := &ToolApprovalPolicy{Global: GlobalAlways}
	if !p.RequiresApproval("any_tool", nil) {
		t.Fatal("expected always-approval policy to require approval")
	}
	if !p.RequiresApproval("read_only", boolPtr(true)) {
		t.Fatal("expected global always to override read-only hint")
	}
}

func TestApprovalPolicyReadOnlyHint(t *testing.T) {
	p := &ToolApprovalPolicy{Global: GlobalByTool, ReadOnlyNeverRequiresApproval: true}
	if p.RequiresApproval("read_tool", boolPtr(true)) {
		t.Fatal("expected read-only hint to skip approval")
	}
	if p.RequiresApproval("write_tool", nil) {
		t.Fatal("expected no hint to default to no approval absent overrides")
	}
}

func TestApprovalPolicyOverridesLastMatchWins(t *testing.T) {
	p := &ToolApprovalPolicy{
		Global: GlobalByTool,
		Overrides: []ToolOverride{
			{Pattern: "write_*", RequiresApproval: true, IsGlob: true},
			{Pattern: "read_file", RequiresApproval: false, IsGlob: false},
		},
	}
	if !p.RequiresApproval("write_file", nil) {
		t.Fatal("expected write_* override to require approval")
	}
	if !p.RequiresApproval("write_data", nil) {
		t.Fatal("expected glob override to match write_data")
	}
	if p.RequiresApproval("read_file", nil) {
		t.Fatal("expected exact override to exempt read_file")
	}
	if p.RequiresApproval("other_tool", nil) {
		t.Fatal("expected unmatched tool to default to no approval")
	}
}

func TestGlobMatch(t *testing.T) {
	cases := []struct {
		pattern, text string
		want          bool
	}{
		{"*", "anything", true},
		{"read_*", "read_file", true},
		{"read_*", "read_directory", true},
		{"read_*", "write_file", false},
		{"?at", "cat", true},
		{"?at", "bat", true},
		{"?at", "cats", false},
		{"read_*.json", "read_config.json", true},
		{"read_*.json", "read_config.txt", false},
	}
	for _, c := range cases {
		if got := globMatch(c.pattern, c.text); got != c.want {
			t.Errorf("globMatch(%q, %q) = %v, want %v", c.pattern, c.text, got, c.want)
		}
	}
}
