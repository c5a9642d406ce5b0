package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOutputManager_Disabled(t *testing.T) {
	om, err := NewOutputManager("")
	if err != nil {
		t.Fatal(err)
	}
	if om != nil {
		t.Fatal("expected nil manager when output is disabled")
	}
	// nil manager is a no-op
	if err := om.WriteBatches([]BatchRecord{{Seq: 1}}); err != nil {
		t.Error(err)
	}
	if err := om.Close(); err != nil {
		t.Error(err)
	}
}

func TestOutputManager_HeadersWrittenOnce(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	om, err := NewOutputManager(dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := om.WriteBatches([]BatchRecord{{Seq: 1, Kind: "nodes", Items: 5}}); err != nil {
		t.Fatal(err)
	}
	if err := om.WriteBatches([]BatchRecord{{Seq: 2, Kind: "nodes", Items: 6}}); err != nil {
		t.Fatal(err)
	}
	if err := om.WriteWalks([]WalkSummary{{Walk: "local", Nodes: 3}}); err != nil {
		t.Fatal(err)
	}
	if err := om.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "batches.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines:\n%s", len(lines), data)
	}
	if !strings.HasPrefix(lines[0], "seq,kind,items") {
		t.Errorf("unexpected header %q", lines[0])
	}

	walks, err := os.ReadFile(filepath.Join(dir, "walks.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(walks), "local") {
		t.Errorf("walk summary missing from walks.csv:\n%s", walks)
	}
}
