package logbuf

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestRingPartialFill(t *testing.T) {
	r := New(5)
	r.Append("a")
	r.Append("b")

	got := r.Lines()
	want := []string{"a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if r.Len() != 2 {
		t.Errorf("expected len 2, got %d", r.Len())
	}
}

func TestRingEviction(t *testing.T) {
	r := New(3)
	for _, s := range []string{"1", "2", "3", "4", "5"} {
		r.Append(s)
	}

	got := r.Lines()
	want := []string{"3", "4", "5"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if r.Len() != 3 {
		t.Errorf("expected len 3, got %d", r.Len())
	}
}

func TestRingExactFill(t *testing.T) {
	r := New(2)
	r.Append("x")
	r.Append("y")

	got := r.Lines()
	want := []string{"x", "y"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestNewClampsSize(t *testing.T) {
	r := New(0)
	r.Append("only")
	if got := r.Lines(); len(got) != 1 || got[0] != "only" {
		t.Errorf("unexpected lines %v", got)
	}
}

func TestTailFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	var content string
	for i := 1; i <= 10; i++ {
		content += fmt.Sprintf("line %d\n", i)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	lines, err := TailFile(path, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"line 8", "line 9", "line 10"}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("expected %v, got %v", want, lines)
	}
}

func TestTailFileUnterminatedLastLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	if err := os.WriteFile(path, []byte("done\npartial"), 0o644); err != nil {
		t.Fatal(err)
	}

	lines, err := TailFile(path, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"done", "partial"}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("expected %v, got %v", want, lines)
	}
}

func TestTailFileMissing(t *testing.T) {
	_, err := TailFile(filepath.Join(t.TempDir(), "nope"), 5)
	if err == nil {
		t.Error("expected error for missing file")
	}
}
