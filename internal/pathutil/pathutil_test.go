package pathutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMerge(t *testing.T) {
	tests := []struct {
		name      string
		primary   string
		secondary string
		want      string
	}{
		{"empty", "", "", ""},
		{"primary only", "/usr/bin:/bin", "", "/usr/bin:/bin"},
		{"secondary only", "", "/usr/bin:/bin", "/usr/bin:/bin"},
		{"disjoint", "/usr/bin:/bin", "/opt/tools/bin", "/usr/bin:/bin:/opt/tools/bin"},
		{"duplicates", "/usr/bin:/bin:/usr/local/bin", "/usr/local/bin:/opt/bin:/bin", "/usr/bin:/bin:/usr/local/bin:/opt/bin"},
		{"empty segments", "/usr/bin::/bin", ":/opt/bin:", "/usr/bin:/bin:/opt/bin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Merge(tt.primary, tt.secondary); got != tt.want {
				t.Errorf("Merge(%q, %q) = %q, want %q", tt.primary, tt.secondary, got, tt.want)
			}
		})
	}
}

func TestCommonDirs(t *testing.T) {
	dirs := strings.Join(CommonDirs(), ":")
	for _, want := range []string{"/usr/local/bin", ".local/bin"} {
		if !strings.Contains(dirs, want) {
			t.Errorf("CommonDirs missing %s: %s", want, dirs)
		}
	}
}

func TestWiden_OnlyExistingDirs(t *testing.T) {
	tmp := t.TempDir()
	existing := filepath.Join(tmp, "existing")
	os.MkdirAll(existing, 0755)
	missing := filepath.Join(tmp, "missing")

	got := Widen("/usr/bin", []string{existing, missing})
	if got != "/usr/bin:"+existing {
		t.Errorf("Widen = %q", got)
	}
}

func TestLookPath(t *testing.T) {
	dir := t.TempDir()
	tool := filepath.Join(dir, "synth-tool")
	os.WriteFile(tool, []byte("#!/bin/sh\n"), 0755)
	plain := filepath.Join(dir, "notes.txt")
	os.WriteFile(plain, []byte("x"), 0644)

	got, err := LookPath("synth-tool", "/nonexistent:"+dir)
	if err != nil || got != tool {
		t.Errorf("LookPath = %q, %v; want %q", got, err, tool)
	}

	if got, err := LookPath(tool, ""); err != nil || got != tool {
		t.Errorf("LookPath(absolute) = %q, %v", got, err)
	}

	if _, err := LookPath("notes.txt", dir); !errors.Is(err, ErrNotFound) {
		t.Errorf("non-executable file should not match, got %v", err)
	}
	if _, err := LookPath("synth-tool", "/nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
