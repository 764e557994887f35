package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDocsMan(t *testing.T) {
	setupCmdTest(t)

	tmpDir := t.TempDir()
	mustRun(t, "docs", "--format", "man", "--output", tmpDir)

	matches, err := filepath.Glob(filepath.Join(tmpDir, "*.1"))
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	if len(matches) == 0 {
		t.Error("no man pages generated")
	}
}

func TestDocsMarkdown(t *testing.T) {
	setupCmdTest(t)

	tmpDir := t.TempDir()
	mustRun(t, "docs", "--format", "markdown", "--output", tmpDir)

	matches, err := filepath.Glob(filepath.Join(tmpDir, "*.md"))
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	if len(matches) == 0 {
		entries, _ := os.ReadDir(tmpDir)
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("no markdown files generated. Files in dir: %v", names)
	}
}

func TestDocsUnknownFormat(t *testing.T) {
	setupCmdTest(t)

	_, err := runCommand(t, "docs", "--format", "pdf", "--output", t.TempDir())
	if err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
