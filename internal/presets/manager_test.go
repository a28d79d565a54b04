package presets

import (
	"path/filepath"
	"testing"
)

func TestCreateAndGetAgentPreset(t *testing.T) {
	workspaceRoot := t.TempDir()
	m := New(workspaceRoot, "", nil)

	preset := &Preset{
		ID:          "reviewer",
		Name:        "Reviewer",
		Description: "Reviews diffs for correctness.",
		Mode:        ModeSubagent,
		Prompt:      "Review the diff and flag issues.",
		Tags:        []string{"review"},
	}
	created, err := m.Create(preset)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.FilePath == "" {
		t.Fatal("expected FilePath to be set after Create")
	}

	got, ok := m.Get("reviewer")
	if !ok {
		t.Fatal("expected Get to find the created preset")
	}
	if got.Name != "Reviewer" {
		t.Fatalf("expected name Reviewer, got %q", got.Name)
	}
}

func TestCreateRejectsInvalidIDAndMode(t *testing.T) {
	m := New(t.TempDir(), "", nil)

	if _, err := m.Create(&Preset{ID: "bad id with spaces", Mode: ModePrimary, Name: "x"}); err == nil {
		t.Fatal("expected an error for an invalid id")
	}
	if _, err := m.Create(&Preset{ID: "ok-id", Mode: "nonsense", Name: "x"}); err == nil {
		t.Fatal("expected an error for an invalid mode")
	}
}

func TestScanMergesWorkspaceOverGlobal(t *testing.T) {
	workspaceRoot := t.TempDir()
	globalDir := t.TempDir()

	global := New("", globalDir, nil)
	global.workspaceDir = globalDir
	if _, err := global.Create(&Preset{ID: "shared", Name: "Global Shared", Mode: ModePrimary, Prompt: "p"}); err != nil {
		t.Fatalf("seed global preset: %v", err)
	}

	m := New(workspaceRoot, globalDir, nil)
	if _, err := m.Create(&Preset{ID: "shared", Name: "Workspace Shared", Mode: ModePrimary, Prompt: "p"}); err != nil {
		t.Fatalf("seed workspace preset: %v", err)
	}

	if err := m.Scan(); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	got, ok := m.Get("shared")
	if !ok {
		t.Fatal("expected shared preset to be found")
	}
	if got.Name != "Workspace Shared" {
		t.Fatalf("expected workspace preset to shadow global, got %q", got.Name)
	}
}

func TestDeleteRemovesFileAndEntry(t *testing.T) {
	workspaceRoot := t.TempDir()
	m := New(workspaceRoot, "", nil)
	if _, err := m.Create(&Preset{ID: "throwaway", Name: "Throwaway", Mode: ModePrimary, Prompt: "p"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := m.Delete("throwaway"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := m.Get("throwaway"); ok {
		t.Fatal("expected preset to be gone after Delete")
	}

	path := filepath.Join(m.workspaceDir, "throwaway.json")
	if _, err := readPresetFile(path); err == nil {
		t.Fatal("expected the backing file to be removed")
	}
}

func TestResolveMentionExtractsLeadingID(t *testing.T) {
	m := New(t.TempDir(), "", nil)
	if _, err := m.Create(&Preset{ID: "debugger", Name: "Debugger", Mode: ModeSubagent, Prompt: "p"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	preset, remainder, ok := m.ResolveMention("@debugger find the race condition")
	if !ok {
		t.Fatal("expected a mention to be resolved")
	}
	if preset.ID != "debugger" {
		t.Fatalf("expected debugger preset, got %q", preset.ID)
	}
	if remainder != "find the race condition" {
		t.Fatalf("expected mention stripped from prompt, got %q", remainder)
	}

	if _, _, ok := m.ResolveMention("plain prompt with no mention"); ok {
		t.Fatal("expected no mention to be resolved for a plain prompt")
	}
	if _, _, ok := m.ResolveMention("@unknown-preset do something"); ok {
		t.Fatal("expected no resolution for an unknown preset id")
	}
}

func TestGetContextRendersPresetSummary(t *testing.T) {
	m := New(t.TempDir(), "", nil)
	steps := 5
	if _, err := m.Create(&Preset{
		ID: "bounded", Name: "Bounded", Description: "Runs with a step cap.",
		Mode: ModeSubagent, Steps: &steps, Prompt: "Stay within budget.",
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	context, err := m.GetContext("bounded")
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if context == "" {
		t.Fatal("expected non-empty context")
	}
}
