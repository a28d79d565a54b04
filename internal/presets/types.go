// Package presets resolves agent presets: per-task-prompt overrides for
// provider/model, tool permission subsets, and initial instructions
// (spec.md §4.11). Like internal/skills, this is a thin, read-mostly
// collaborator the orchestrator consults at the top of a run, applying a
// preset's provider/model and its GetContext text — it holds no
// concurrency contract of its own.
package presets

import (
	"sort"
	"strconv"
	"strings"
)

// Mode is who a preset is meant to drive: the primary worker turn, or a
// delegated sub-agent.
type Mode string

const (
	ModePrimary  Mode = "primary"
	ModeSubagent Mode = "subagent"
)

// ToolPermission records a preset's setting for a single tool. These
// settings appear only in the constraints text GetContext renders; they
// do not change the toolgate policy or which tools a run can reach.
type ToolPermission string

const (
	ToolInherit ToolPermission = "inherit"
	ToolAllow   ToolPermission = "allow"
	ToolDeny    ToolPermission = "deny"
)

// Source records whether a preset came from the workspace or the global
// directory, mirroring skills.Source's shadowing rule.
type Source string

const (
	SourceWorkspace Source = "workspace"
	SourceGlobal    Source = "global"
)

// Preset is a named bundle of run-time overrides, resolvable either by
// explicit id or by an "@id" mention at the start of a task prompt.
type Preset struct {
	ID          string                    `json:"id"`
	Name        string                    `json:"name"`
	Description string                    `json:"description"`
	Mode        Mode                      `json:"mode"`
	Model       string                    `json:"model,omitempty"`
	Provider    string                    `json:"provider,omitempty"`
	Temperature *float32                  `json:"temperature,omitempty"`
	Steps       *int                      `json:"steps,omitempty"`
	Tools       map[string]ToolPermission `json:"tools,omitempty"`
	Prompt      string                    `json:"prompt"`
	Tags        []string                  `json:"tags,omitempty"`

	FilePath string `json:"file_path,omitempty"`
	Source   Source `json:"source,omitempty"`
	Enabled  bool   `json:"enabled"`
}

// ConstraintsSummary renders the tool/step/temperature overrides as a
// short human string, used by GetContext to describe the preset inline.
func (p *Preset) ConstraintsSummary() string {
	if p.Steps == nil && p.Temperature == nil && len(p.Tools) == 0 {
		return "none"
	}
	summary := ""
	if p.Steps != nil {
		summary += "max steps " + strconv.Itoa(*p.Steps) + "; "
	}
	if p.Temperature != nil {
		summary += "temperature " + strconv.FormatFloat(float64(*p.Temperature), 'g', -1, 32) + "; "
	}
	if len(p.Tools) > 0 {
		denied := 0
		for _, perm := range p.Tools {
			if perm == ToolDeny {
				denied++
			}
		}
		if denied > 0 {
			summary += strconv.Itoa(denied) + " tool(s) restricted; "
		}
	}
	if summary == "" {
		return "none"
	}
	return summary[:len(summary)-2]
}

func (p *Preset) matches(query string) bool {
	q := strings.ToLower(query)
	if strings.Contains(strings.ToLower(p.ID), q) ||
		strings.Contains(strings.ToLower(p.Name), q) ||
		strings.Contains(strings.ToLower(p.Description), q) {
		return true
	}
	for _, tag := range p.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

func sortPresets(presets []*Preset) {
	sort.Slice(presets, func(i, j int) bool { return presets[i].ID < presets[j].ID })
}
