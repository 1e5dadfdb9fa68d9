package tailbuf

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestPushEvictsOldest(t *testing.T) {
	t.Parallel()
	b := New(3)
	for i := 1; i <= 5; i++ {
		b.Push(fmt.Sprintf("line%d", i))
	}
	want := []string{"line3", "line4", "line5"}
	if got := b.Lines(); !reflect.DeepEqual(got, want) {
		t.Errorf("Lines() = %v, want %v", got, want)
	}
}

func TestLinesSnapshotIsIndependent(t *testing.T) {
	t.Parallel()
	b := New(10)
	b.Push("a")
	snap := b.Lines()
	b.Push("b")
	if len(snap) != 1 || snap[0] != "a" {
		t.Errorf("snapshot mutated: %v", snap)
	}
}

func TestLastLines(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "out")
	var sb strings.Builder
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&sb, "row %d\n", i)
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		t.Fatal(err)
	}

	lines, err := LastLines(path, 5)
	if err != nil {
		t.Fatalf("LastLines: %v", err)
	}
	want := []string{"row 95", "row 96", "row 97", "row 98", "row 99"}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("lines = %v, want %v", lines, want)
	}
}

func TestLastLinesShortFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "out")
	if err := os.WriteFile(path, []byte("only\n"), 0644); err != nil {
		t.Fatal(err)
	}
	lines, err := LastLines(path, 20)
	if err != nil {
		t.Fatalf("LastLines: %v", err)
	}
	if len(lines) != 1 || lines[0] != "only" {
		t.Errorf("lines = %v", lines)
	}
}

func TestLastLinesMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := LastLines(filepath.Join(t.TempDir(), "nope"), 5); err == nil {
		t.Error("expected error for missing file")
	}
}
