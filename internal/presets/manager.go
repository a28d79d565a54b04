package presets

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// presetExt is the on-disk extension for a single preset file, grounded
// on original_source's write_agent_preset (one file per preset id).
const presetExt = ".json"

// Manager scans the workspace and global preset directories and serves
// the lookups behind list_agent_presets/get_agent_preset/create_agent_
// preset/update_agent_preset/delete_agent_preset/get_agent_preset_context
// (spec.md §6).
type Manager struct {
	workspaceDir string // <workspace>/.agents/presets
	globalDir    string

	logger *slog.Logger

	mu      sync.RWMutex
	presets map[string]*Preset
}

// New creates a Manager rooted at the given workspace and global preset
// directories.
func New(workspaceRoot, globalDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		workspaceDir: filepath.Join(workspaceRoot, ".agents", "presets"),
		globalDir:    globalDir,
		logger:       logger.With("component", "presets"),
		presets:      make(map[string]*Preset),
	}
}

// Scan rescans both directories; workspace presets shadow global presets
// with the same id, matching the skills catalog's precedence rule.
func (m *Manager) Scan() error {
	global, err := scanDir(m.globalDir, SourceGlobal, m.logger)
	if err != nil {
		return fmt.Errorf("presets: scan global: %w", err)
	}
	workspace, err := scanDir(m.workspaceDir, SourceWorkspace, m.logger)
	if err != nil {
		return fmt.Errorf("presets: scan workspace: %w", err)
	}

	merged := make(map[string]*Preset, len(global)+len(workspace))
	for _, p := range global {
		merged[p.ID] = p
	}
	for _, p := range workspace {
		merged[p.ID] = p
	}

	m.mu.Lock()
	m.presets = merged
	m.mu.Unlock()

	m.logger.Info("scanned agent presets", "workspace", len(workspace), "global", len(global))
	return nil
}

func scanDir(dir string, source Source, logger *slog.Logger) ([]*Preset, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var presets []*Preset
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != presetExt {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		preset, err := readPresetFile(path)
		if err != nil {
			logger.Warn("skipping invalid agent preset", "path", path, "error", err)
			continue
		}
		preset.FilePath = path
		preset.Source = source
		presets = append(presets, preset)
	}
	return presets, nil
}

func readPresetFile(path string) (*Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var preset Preset
	if err := json.Unmarshal(data, &preset); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if preset.ID == "" {
		return nil, fmt.Errorf("%s: missing id", path)
	}
	return &preset, nil
}

// List implements list_agent_presets.
func (m *Manager) List() []*Preset {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Preset, 0, len(m.presets))
	for _, p := range m.presets {
		result = append(result, p)
	}
	sortPresets(result)
	return result
}

// Get implements get_agent_preset.
func (m *Manager) Get(id string) (*Preset, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.presets[id]
	return p, ok
}

// Search implements search_agent_presets: case-insensitive substring
// match over id, name, description, and tags.
func (m *Manager) Search(query string) []*Preset {
	if strings.TrimSpace(query) == "" {
		return m.List()
	}
	var result []*Preset
	for _, p := range m.List() {
		if p.matches(query) {
			result = append(result, p)
		}
	}
	return result
}

// validID enforces original_source's kebab-case id rule: alphanumeric,
// hyphens, and underscores only.
func validID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}

// Create implements create_agent_preset, writing the preset to the
// workspace preset directory. Update (update_agent_preset) is the same
// operation: writing again overwrites the existing file, mirroring
// original_source's create_agent_preset/update_agent_preset pairing.
func (m *Manager) Create(preset *Preset) (*Preset, error) {
	if !validID(preset.ID) {
		return nil, fmt.Errorf("presets: invalid id %q: must be alphanumeric with hyphens/underscores", preset.ID)
	}
	if preset.Mode != ModePrimary && preset.Mode != ModeSubagent {
		return nil, fmt.Errorf("presets: invalid mode %q: must be %q or %q", preset.Mode, ModePrimary, ModeSubagent)
	}
	preset.Enabled = true
	preset.Source = SourceWorkspace

	if err := os.MkdirAll(m.workspaceDir, 0o755); err != nil {
		return nil, fmt.Errorf("presets: create dir: %w", err)
	}

	path := filepath.Join(m.workspaceDir, preset.ID+presetExt)
	data, err := json.MarshalIndent(preset, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("presets: marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, fmt.Errorf("presets: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("presets: rename %s: %w", tmp, err)
	}
	preset.FilePath = path

	m.mu.Lock()
	m.presets[preset.ID] = preset
	m.mu.Unlock()

	return preset, nil
}

// Update implements update_agent_preset.
func (m *Manager) Update(preset *Preset) (*Preset, error) {
	return m.Create(preset)
}

// Delete implements delete_agent_preset.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	preset, ok := m.presets[id]
	if ok {
		delete(m.presets, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("presets: %q not found", id)
	}
	if preset.FilePath == "" {
		return nil
	}
	if err := os.Remove(preset.FilePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("presets: remove %s: %w", preset.FilePath, err)
	}
	return nil
}

// GetContext implements get_agent_preset_context: the preset rendered as
// a markdown block for injection into a worker turn's system prompt.
func (m *Manager) GetContext(id string) (string, error) {
	preset, ok := m.Get(id)
	if !ok {
		return "", fmt.Errorf("presets: %q not found", id)
	}
	return fmt.Sprintf(
		"## Agent: %s\n\n%s\n\nMode: %s\nConstraints: %s\n\n%s",
		preset.Name, preset.Description, preset.Mode, preset.ConstraintsSummary(), preset.Prompt,
	), nil
}

// mentionPrefix is how a task prompt names a preset inline.
const mentionPrefix = "@"

// ResolveMention extracts a leading "@preset-id" mention from a task
// prompt (spec.md §4.11: "Resolution is by @preset-id mention in the
// prompt or by explicit selection."). Returns the matched preset, the
// prompt with the mention stripped, and whether a mention was found.
func (m *Manager) ResolveMention(prompt string) (*Preset, string, bool) {
	trimmed := strings.TrimSpace(prompt)
	if !strings.HasPrefix(trimmed, mentionPrefix) {
		return nil, prompt, false
	}
	rest := trimmed[len(mentionPrefix):]
	end := strings.IndexAny(rest, " \t\n")
	var id, remainder string
	if end == -1 {
		id, remainder = rest, ""
	} else {
		id, remainder = rest[:end], strings.TrimSpace(rest[end:])
	}

	preset, ok := m.Get(id)
	if !ok {
		return nil, prompt, false
	}
	return preset, remainder, true
}
