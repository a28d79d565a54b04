// Package skills discovers and serves the read-only skills catalog that
// gets concatenated into a worker turn's system prompt (spec.md §4.11).
// Unlike the teacher's skill system, Orchestrix skills carry no gating
// or tool-provisioning: they are markdown prompt fragments, nothing more.
package skills

import (
	"sort"
	"strings"
)

// Source records where an entry was discovered, for UI display and for
// the workspace-shadows-global precedence rule.
type Source string

const (
	SourceWorkspace Source = "workspace"
	SourceGlobal    Source = "global"
	SourceCustom    Source = "custom"
)

// SkillFilename is the expected filename inside every skill directory.
const SkillFilename = "SKILL.md"

// Entry is a discovered or hand-authored skill.
type Entry struct {
	// Key is the directory name a skill was discovered under, or the id
	// assigned by add_custom_skill. Lookup, workspace/global shadowing,
	// and get_active_skills_context selection all key on this — not on
	// the frontmatter Name, per spec.md §4.11.
	Key string `json:"key"`

	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`

	// Content is the markdown body below the frontmatter.
	Content string `json:"content"`

	// Path is the directory a filesystem-discovered skill lives in.
	// Empty for custom skills, which have no backing directory.
	Path string `json:"path,omitempty"`

	Source Source `json:"source"`
}

// matches reports whether a case-folded substring search against name,
// description, key, and tags would surface this entry.
func (e *Entry) matches(query string) bool {
	q := strings.ToLower(query)
	if strings.Contains(strings.ToLower(e.Name), q) ||
		strings.Contains(strings.ToLower(e.Description), q) ||
		strings.Contains(strings.ToLower(e.Key), q) {
		return true
	}
	for _, tag := range e.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

func sortEntries(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
}
