package skills

import (
	"strings"
	"testing"
)

const sampleSkill = `---
name: code-review
description: Reviews a diff for correctness and style issues.
tags:
  - review
  - quality
---

Walk the diff hunk by hunk and flag anything that looks wrong.
`

func TestParseExtractsFrontmatterAndBody(t *testing.T) {
	entry, err := Parse([]byte(sampleSkill))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if entry.Name != "code-review" {
		t.Fatalf("expected name code-review, got %q", entry.Name)
	}
	if entry.Description == "" {
		t.Fatal("expected a description")
	}
	if len(entry.Tags) != 2 || entry.Tags[0] != "review" {
		t.Fatalf("expected [review quality] tags, got %v", entry.Tags)
	}
	if !strings.Contains(entry.Content, "Walk the diff") {
		t.Fatalf("expected body content, got %q", entry.Content)
	}
}

func TestParseRejectsMissingName(t *testing.T) {
	bad := "---\ndescription: no name here\n---\nbody\n"
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatal("expected an error for missing name")
	}
}

func TestParseRejectsMissingDelimiters(t *testing.T) {
	if _, err := Parse([]byte("no frontmatter here")); err == nil {
		t.Fatal("expected an error for a missing frontmatter block")
	}
}

func TestRenderRoundTrips(t *testing.T) {
	entry := &Entry{Name: "n", Description: "d", Tags: []string{"a", "b"}, Content: "body text"}
	rendered := Render(entry)

	parsed, err := Parse(rendered)
	if err != nil {
		t.Fatalf("Parse(Render(entry)): %v", err)
	}
	if parsed.Name != entry.Name || parsed.Description != entry.Description {
		t.Fatalf("round trip mismatch: %+v", parsed)
	}
	if len(parsed.Tags) != 2 {
		t.Fatalf("expected tags to round trip, got %v", parsed.Tags)
	}
	if parsed.Content != entry.Content {
		t.Fatalf("expected content to round trip, got %q", parsed.Content)
	}
}
