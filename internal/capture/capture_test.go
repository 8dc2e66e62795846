package capture

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/strrl/mathchat/internal/db"
)

func TestCreateWritesIntoDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "captures")

	f, err := Create(dir)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := io.WriteString(f, `{"response":"a","done":false}`+"\n"); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	path := filepath.Join(dir, f.ID+Ext)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("capture file missing: %v", err)
	}
	if !strings.Contains(string(data), `"response":"a"`) {
		t.Errorf("unexpected capture content: %s", data)
	}
}

func TestInspectEmptyDir(t *testing.T) {
	summaries, err := Inspect(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if len(summaries) != 0 {
		t.Errorf("expected no summaries, got %d", len(summaries))
	}
}

func TestInspectMissingDir(t *testing.T) {
	if _, err := Inspect(context.Background(), filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestInspectAggregatesCaptures(t *testing.T) {
	if _, err := db.GetDB(); err != nil {
		t.Skipf("Skipping test, DuckDB unavailable: %v", err)
	}

	dir := t.TempDir()
	lines := strings.Join([]string{
		`{"response":"Hel","done":false}`,
		`{"response":"lo","done":false}`,
		`{"response":"","done":true}`,
		`{"chat_id":42}`,
	}, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(dir, "a"+Ext), []byte(lines), 0644); err != nil {
		t.Fatalf("failed to write capture: %v", err)
	}

	summaries, err := Inspect(context.Background(), dir)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}

	s := summaries[0]
	if s.File != "a"+Ext {
		t.Errorf("unexpected file name %q", s.File)
	}
	if s.Lines != 4 || s.Fragments != 2 || s.DoneLines != 1 || s.Chars != 5 {
		t.Errorf("unexpected summary %+v", s)
	}
	if s.ChatID == nil || *s.ChatID != 42 {
		t.Errorf("expected chat id 42, got %v", s.ChatID)
	}
}
