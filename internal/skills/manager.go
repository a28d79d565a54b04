package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// customSkillsFilename is the persisted-state file named in spec.md §6.
const customSkillsFilename = "custom-skills-v1.json"

// Manager discovers skills from the workspace and global directories,
// merges in hand-authored custom skills, and serves the lookups the
// command surface (§6) needs. Grounded on the teacher's skills.Manager,
// trimmed of gating/tool-provisioning: spec.md frames catalogs as
// "read-only prompt-injection data sources", nothing more.
type Manager struct {
	workspaceDir string // <workspace>/.agents/skills
	globalDir    string // global skills directory
	stateDir     string // app-data dir holding custom-skills-v1.json

	logger *slog.Logger

	mu      sync.RWMutex
	catalog map[string]*Entry // discovered workspace+global, post-shadowing
	custom  map[string]*Entry // hand-authored, from custom-skills-v1.json

	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// New creates a Manager rooted at the given workspace. stateDir is the
// app-data directory custom-skills-v1.json lives in.
func New(workspaceRoot, globalDir, stateDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		workspaceDir: filepath.Join(workspaceRoot, ".agents", "skills"),
		globalDir:    globalDir,
		stateDir:     stateDir,
		logger:       logger.With("component", "skills"),
		catalog:      make(map[string]*Entry),
		custom:       make(map[string]*Entry),
	}
}

// Discover rescans the workspace and global directories and reloads
// custom-skills-v1.json. Safe to call repeatedly (e.g. on a watch event).
func (m *Manager) Discover(ctx context.Context) error {
	workspace, err := discoverDir(m.workspaceDir, SourceWorkspace, m.logger)
	if err != nil {
		return fmt.Errorf("skills: discover workspace: %w", err)
	}
	global, err := discoverDir(m.globalDir, SourceGlobal, m.logger)
	if err != nil {
		return fmt.Errorf("skills: discover global: %w", err)
	}
	merged := mergeByKey(workspace, global)

	custom, err := m.loadCustom()
	if err != nil {
		return fmt.Errorf("skills: load custom: %w", err)
	}

	m.mu.Lock()
	m.catalog = merged
	m.custom = custom
	m.mu.Unlock()

	m.logger.Info("discovered skills", "workspace", len(workspace), "global", len(global), "custom", len(custom))
	return nil
}

// all returns the merged workspace/global catalog plus custom skills,
// custom entries taking precedence over a same-keyed discovered one.
func (m *Manager) all() []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byKey := make(map[string]*Entry, len(m.catalog)+len(m.custom))
	for k, e := range m.catalog {
		byKey[k] = e
	}
	for k, e := range m.custom {
		byKey[k] = e
	}
	result := make([]*Entry, 0, len(byKey))
	for _, e := range byKey {
		result = append(result, e)
	}
	sortEntries(result)
	return result
}

// ListAvailable implements list_available_skills.
func (m *Manager) ListAvailable() []*Entry {
	return m.all()
}

// ListWorkspaceSkills implements list_workspace_skills: entries discovered
// under the workspace directory only, excluding global and custom.
func (m *Manager) ListWorkspaceSkills() []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for _, e := range m.catalog {
		if e.Source == SourceWorkspace {
			result = append(result, e)
		}
	}
	sortEntries(result)
	return result
}

// Get implements the lookup behind get_agent_preset-style commands for a
// single skill by key.
func (m *Manager) Get(key string) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.custom[key]; ok {
		return e, true
	}
	e, ok := m.catalog[key]
	return e, ok
}

// Search implements search_skills: a case-insensitive substring match over
// name, description, key, and tags.
func (m *Manager) Search(query string) []*Entry {
	if strings.TrimSpace(query) == "" {
		return m.all()
	}
	var result []*Entry
	for _, e := range m.all() {
		if e.matches(query) {
			result = append(result, e)
		}
	}
	return result
}

// ActiveContext implements get_active_skills_context: the enabled subset,
// concatenated into a single markdown block for the worker's system
// prompt (spec.md §4.11). Order follows the given key list.
func (m *Manager) ActiveContext(keys []string) string {
	var b strings.Builder
	for _, key := range keys {
		entry, ok := m.Get(key)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "## Skill: %s\n\n%s\n\n", entry.Name, entry.Content)
	}
	return strings.TrimSpace(b.String())
}

// AddCustomSkill implements add_custom_skill: registers a hand-authored
// entry and persists the custom catalog to custom-skills-v1.json.
func (m *Manager) AddCustomSkill(key, name, description string, tags []string, content string) (*Entry, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("skills: key is required")
	}
	entry := &Entry{Key: key, Name: name, Description: description, Tags: tags, Content: content, Source: SourceCustom}

	m.mu.Lock()
	if m.custom == nil {
		m.custom = make(map[string]*Entry)
	}
	m.custom[key] = entry
	snapshot := m.cloneCustomLocked()
	m.mu.Unlock()

	if err := m.saveCustom(snapshot); err != nil {
		return nil, err
	}
	return entry, nil
}

// RemoveCustomSkill implements remove_custom_skill.
func (m *Manager) RemoveCustomSkill(key string) error {
	m.mu.Lock()
	if _, ok := m.custom[key]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("skills: custom skill %q not found", key)
	}
	delete(m.custom, key)
	snapshot := m.cloneCustomLocked()
	m.mu.Unlock()

	return m.saveCustom(snapshot)
}

// ImportSkill implements the import_*_skill family: parses externally
// sourced SKILL.md-shaped content and registers it as a custom skill
// under the given key.
func (m *Manager) ImportSkill(key string, data []byte) (*Entry, error) {
	entry, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("skills: import %s: %w", key, err)
	}
	return m.AddCustomSkill(key, entry.Name, entry.Description, entry.Tags, entry.Content)
}

func (m *Manager) cloneCustomLocked() map[string]*Entry {
	clone := make(map[string]*Entry, len(m.custom))
	for k, v := range m.custom {
		clone[k] = v
	}
	return clone
}

func (m *Manager) customStatePath() string {
	return filepath.Join(m.stateDir, customSkillsFilename)
}

func (m *Manager) loadCustom() (map[string]*Entry, error) {
	path := m.customStatePath()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return make(map[string]*Entry), nil
	}
	if err != nil {
		return nil, err
	}

	var entries []*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	result := make(map[string]*Entry, len(entries))
	for _, e := range entries {
		e.Source = SourceCustom
		result[e.Key] = e
	}
	return result, nil
}

// saveCustom writes the custom catalog with an atomic write-then-rename,
// the teacher's config-persistence idiom carried over from the ambient
// stack (SPEC_FULL.md's AMBIENT STACK section).
func (m *Manager) saveCustom(custom map[string]*Entry) error {
	if err := os.MkdirAll(m.stateDir, 0o755); err != nil {
		return fmt.Errorf("skills: create state dir: %w", err)
	}

	entries := make([]*Entry, 0, len(custom))
	for _, e := range custom {
		entries = append(entries, e)
	}
	sortEntries(entries)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("skills: marshal custom skills: %w", err)
	}

	path := m.customStatePath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("skills: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("skills: rename %s: %w", tmp, err)
	}
	return nil
}

// StartWatching watches the workspace and global skill directories and
// re-runs Discover on change, debounced, so a live edit to a SKILL.md
// shows up without a restart (DOMAIN STACK: fsnotify backs the skills
// catalog's live reload).
func (m *Manager) StartWatching(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("skills: new watcher: %w", err)
	}
	for _, dir := range []string{m.workspaceDir, m.globalDir} {
		if dir == "" {
			continue
		}
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			if err := watcher.Add(dir); err != nil {
				m.logger.Warn("failed to watch skills dir", "path", dir, "error", err)
			}
		}
	}

	watchCtx, cancel := context.WithCancel(ctx)
	m.watcher = watcher
	m.watchCancel = cancel

	m.watchWg.Add(1)
	go m.watchLoop(watchCtx, watcher)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer m.watchWg.Done()

	const debounce = 250 * time.Millisecond
	var timer *time.Timer
	scheduleRefresh := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			if err := m.Discover(context.Background()); err != nil {
				m.logger.Warn("skill discovery failed during watch refresh", "error", err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleRefresh()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("skill watch error", "error", err)
		}
	}
}

// Close stops the watcher, if one was started.
func (m *Manager) Close() error {
	if m.watchCancel != nil {
		m.watchCancel()
		m.watchCancel = nil
	}
	if m.watcher != nil {
		_ = m.watcher.Close()
		m.watcher = nil
	}
	m.watchWg.Wait()
	return nil
}
