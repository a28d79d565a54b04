package skills

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// frontmatterDelimiter marks the beginning and end of a SKILL.md's YAML
// frontmatter block.
const frontmatterDelimiter = "---"

type frontmatter struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags"`
}

// ParseFile reads a SKILL.md file and returns the discovered entry. key is
// the directory name it was found under, which becomes Entry.Key.
func ParseFile(path, key string, source Source) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("skills: read %s: %w", path, err)
	}
	entry, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("skills: parse %s: %w", path, err)
	}
	entry.Key = key
	entry.Path = filepath.Dir(path)
	entry.Source = source
	return entry, nil
}

// Parse splits SKILL.md content into frontmatter and markdown body.
func Parse(data []byte) (*Entry, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}

	var meta frontmatter
	if err := yaml.Unmarshal(fm, &meta); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}
	if meta.Name == "" {
		return nil, fmt.Errorf("skill name is required")
	}
	if meta.Description == "" {
		return nil, fmt.Errorf("skill description is required")
	}

	return &Entry{
		Name:        meta.Name,
		Description: meta.Description,
		Tags:        meta.Tags,
		Content:     strings.TrimSpace(string(body)),
	}, nil
}

// splitFrontmatter separates a leading "---"-delimited YAML block from the
// markdown body that follows it.
func splitFrontmatter(data []byte) ([]byte, []byte, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))

	if !scanner.Scan() {
		return nil, nil, fmt.Errorf("empty file")
	}
	if strings.TrimSpace(scanner.Text()) != frontmatterDelimiter {
		return nil, nil, fmt.Errorf("missing opening frontmatter delimiter")
	}

	var fmLines []string
	closed := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == frontmatterDelimiter {
			closed = true
			break
		}
		fmLines = append(fmLines, line)
	}
	if !closed {
		return nil, nil, fmt.Errorf("missing closing frontmatter delimiter")
	}

	var bodyLines []string
	for scanner.Scan() {
		bodyLines = append(bodyLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scanner error: %w", err)
	}

	return []byte(strings.Join(fmLines, "\n")), []byte(strings.Join(bodyLines, "\n")), nil
}

// Render re-serializes an entry back into SKILL.md form. Custom and
// imported skills are persisted as JSON by the Manager, not through it.
func Render(e *Entry) []byte {
	var b strings.Builder
	b.WriteString(frontmatterDelimiter + "\n")
	fmt.Fprintf(&b, "name: %s\n", e.Name)
	fmt.Fprintf(&b, "description: %s\n", e.Description)
	if len(e.Tags) > 0 {
		b.WriteString("tags:\n")
		for _, tag := range e.Tags {
			fmt.Fprintf(&b, "  - %s\n", tag)
		}
	}
	b.WriteString(frontmatterDelimiter + "\n\n")
	b.WriteString(e.Content)
	b.WriteString("\n")
	return []byte(b.String())
}
