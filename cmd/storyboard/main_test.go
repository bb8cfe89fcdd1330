// ABOUTME: Tests for CLI helpers: .env loading, story input, summary rendering.
package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/2389-research/storyboard/config"
	"github.com/2389-research/storyboard/pipeline"
	"github.com/2389-research/storyboard/store"
)

func TestLoadDotEnvSetsAndPreserves(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := `# comment
FOO_FROM_DOTENV=bar
export EXPORTED_VALUE="quoted"
PRESET_VALUE=from-file
MALFORMED LINE
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PRESET_VALUE", "from-env")
	os.Unsetenv("FOO_FROM_DOTENV")
	os.Unsetenv("EXPORTED_VALUE")
	t.Cleanup(func() {
		os.Unsetenv("FOO_FROM_DOTENV")
		os.Unsetenv("EXPORTED_VALUE")
	})

	loadDotEnv(path)

	if got := os.Getenv("FOO_FROM_DOTENV"); got != "bar" {
		t.Errorf("FOO_FROM_DOTENV = %q", got)
	}
	if got := os.Getenv("EXPORTED_VALUE"); got != "quoted" {
		t.Errorf("EXPORTED_VALUE = %q", got)
	}
	if got := os.Getenv("PRESET_VALUE"); got != "from-env" {
		t.Errorf("existing environment clobbered: %q", got)
	}
}

func TestLoadDotEnvMissingFileIsNoOp(t *testing.T) {
	loadDotEnv(filepath.Join(t.TempDir(), "absent.env"))
}

func TestReadStoryFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "story.md")
	if err := os.WriteFile(path, []byte("Once upon a time."), 0644); err != nil {
		t.Fatal(err)
	}
	text, err := readStory(path)
	if err != nil {
		t.Fatalf("read story: %v", err)
	}
	if text != "Once upon a time." {
		t.Errorf("unexpected text: %q", text)
	}

	if _, err := readStory(filepath.Join(t.TempDir(), "missing.md")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRunValidateWithDefaults(t *testing.T) {
	var buf bytes.Buffer
	if code := runValidate(&buf, config.Default()); code != 0 {
		t.Fatalf("expected exit 0, got %d:\n%s", code, buf.String())
	}
	out := buf.String()
	if !strings.Contains(out, "config ok") || !strings.Contains(out, "templates ok") {
		t.Errorf("unexpected validate output:\n%s", out)
	}
}

func TestRunValidateRejectsBrokenTemplates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	broken := `templates:
  - id: empty
    name: No rects
    rects: []
`
	if err := os.WriteFile(path, []byte(broken), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Layout.TemplatesPath = path

	var buf bytes.Buffer
	if code := runValidate(&buf, cfg); code != 1 {
		t.Fatalf("expected exit 1, got %d:\n%s", code, buf.String())
	}
}

func TestRunValidateReportsMissingPanelCounts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	partial := `templates:
  - id: single
    name: Full page
    rects:
      - {x: 0, y: 0, w: 1, h: 1}
`
	if err := os.WriteFile(path, []byte(partial), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Layout.TemplatesPath = path

	var buf bytes.Buffer
	if code := runValidate(&buf, cfg); code != 1 {
		t.Fatalf("expected exit 1, got %d:\n%s", code, buf.String())
	}
	if !strings.Contains(buf.String(), "no template lays out 2 panels") {
		t.Errorf("expected missing-count report:\n%s", buf.String())
	}
}

func TestPrintSummaryListsArtifacts(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "cli.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	sc, err := st.CreateScene(context.Background(), "story-1", 0, "text", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.Create(context.Background(), sc.ID, "panel_plan", map[string]any{"panels": []any{}}, "test"); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	printSummary(&buf, st, &pipeline.StoryResult{StoryID: "story-1", SceneIDs: []string{sc.ID}})

	out := buf.String()
	if !strings.Contains(out, "story-1") || !strings.Contains(out, "panel_plan") || !strings.Contains(out, "v1") {
		t.Errorf("summary missing expected content:\n%s", out)
	}
}
