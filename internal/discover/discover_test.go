package discover

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestProjectDirName(t *testing.T) {
	tests := []struct {
		cwd  string
		want string
	}{
		{"/home/user/myproject", "-home-user-myproject"},
		{"/home/user/my.app", "-home-user-my-app"},
		{"/root/module", "-root-module"},
		{"relative/path", "relative-path"},
	}
	for _, tt := range tests {
		if got := ProjectDirName(tt.cwd); got != tt.want {
			t.Errorf("ProjectDirName(%q) = %q, want %q", tt.cwd, got, tt.want)
		}
	}
}

func TestIsSessionFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"0c7f3a10-1a2b-4c3d-8e4f-5a6b7c8d9e0f.jsonl", true},
		{"agent-0c7f3a10.jsonl", true},
		{"agent-anything.jsonl", true},
		{"notes.md", false},
		{"0c7f3a10-1a2b-4c3d-8e4f-5a6b7c8d9e0f.json", false},
		{"random-name.jsonl", false},
	}
	for _, tt := range tests {
		if got := IsSessionFile(tt.name); got != tt.want {
			t.Errorf("IsSessionFile(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestIsSubAgentFile(t *testing.T) {
	if !IsSubAgentFile("/some/dir/agent-123.jsonl") {
		t.Error("agent- prefixed file should be a sub-agent file")
	}
	if IsSubAgentFile("/some/dir/0c7f3a10-1a2b-4c3d-8e4f-5a6b7c8d9e0f.jsonl") {
		t.Error("uuid-named file should not be a sub-agent file")
	}
}

func TestListSessionFiles(t *testing.T) {
	dir := t.TempDir()

	primary := "0c7f3a10-1a2b-4c3d-8e4f-5a6b7c8d9e0f.jsonl"
	sidecar := "agent-worker1.jsonl"
	for _, name := range []string{primary, sidecar, "README.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	// Make the primary clearly older so sort order is deterministic.
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(dir, primary), old, old); err != nil {
		t.Fatal(err)
	}

	files, err := ListSessionFiles(dir)
	if err != nil {
		t.Fatalf("ListSessionFiles: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2", len(files))
	}
	if files[0].SessionID != "0c7f3a10-1a2b-4c3d-8e4f-5a6b7c8d9e0f" || files[0].IsSubAgent {
		t.Errorf("files[0] = %+v", files[0])
	}
	if files[1].SessionID != "agent-worker1" || !files[1].IsSubAgent {
		t.Errorf("files[1] = %+v", files[1])
	}
}

func TestFindSessionFile(t *testing.T) {
	root := t.TempDir()
	projDir := filepath.Join(root, "-home-user-myproject")
	if err := os.MkdirAll(projDir, 0o755); err != nil {
		t.Fatal(err)
	}

	session := "0c7f3a10-1a2b-4c3d-8e4f-5a6b7c8d9e0f"
	path := filepath.Join(projDir, session+".jsonl")
	if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := FindSessionFile(root, session)
	if err != nil {
		t.Fatalf("FindSessionFile: %v", err)
	}
	if got != path {
		t.Errorf("got %q, want %q", got, path)
	}

	if _, err := FindSessionFile(root, "missing-session"); !os.IsNotExist(err) {
		t.Errorf("missing session: err = %v, want not-exist", err)
	}
}
