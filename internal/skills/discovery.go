package skills

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// discoverDir scans a directory of skill subdirectories (each containing a
// SKILL.md) and returns the entries found, keyed by subdirectory name.
// Grounded on the teacher's LocalSource.Discover; Orchestrix drops the
// git/registry sources the teacher supports since spec.md §4.11 names only
// a workspace directory and a global directory.
func discoverDir(dir string, source Source, logger *slog.Logger) ([]*Entry, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}

	children, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	var entries []*Entry
	for _, child := range children {
		if !child.IsDir() {
			continue
		}
		skillFile := filepath.Join(dir, child.Name(), SkillFilename)
		if _, err := os.Stat(skillFile); os.IsNotExist(err) {
			continue
		}

		entry, err := ParseFile(skillFile, child.Name(), source)
		if err != nil {
			logger.Warn("skipping invalid skill", "path", skillFile, "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// mergeByKey combines workspace and global entries, with workspace entries
// shadowing global entries that share a key (spec.md §4.11).
func mergeByKey(workspace, global []*Entry) map[string]*Entry {
	byKey := make(map[string]*Entry, len(workspace)+len(global))
	for _, e := range global {
		byKey[e.Key] = e
	}
	for _, e := range workspace {
		byKey[e.Key] = e
	}
	return byKey
}
