// Package discover locates agent session log files on disk and maps a
// working directory to the project directory the agent writes into.
package discover

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SubAgentPrefix is the filename prefix of sidecar logs written by
// parallel sub-agent workers sharing the session directory.
const SubAgentPrefix = "agent-"

// SessionFile represents one discovered log file in a session directory.
type SessionFile struct {
	Path       string
	SessionID  string // filename stem; the agent id for sidecar files
	IsSubAgent bool
	ModTime    time.Time
}

// DefaultRoot returns the agent's log root, ~/.claude/projects.
func DefaultRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".claude", "projects")
}

// ProjectDirName derives the directory name the agent uses for a working
// directory: path separators and dots are replaced with dashes, so
// /home/user/my.app becomes -home-user-my-app.
func ProjectDirName(cwd string) string {
	return strings.NewReplacer("/", "-", "\\", "-", ".", "-").Replace(cwd)
}

// ProjectDir joins the log root with the derived project directory name.
func ProjectDir(root, cwd string) string {
	return filepath.Join(root, ProjectDirName(cwd))
}

// IsSubAgentFile reports whether a filename follows the sidecar naming
// convention.
func IsSubAgentFile(name string) bool {
	return strings.HasPrefix(filepath.Base(name), SubAgentPrefix)
}

// IsSessionFile reports whether a filename looks like a session log:
// either a UUID-named primary transcript or a sub-agent sidecar.
func IsSessionFile(name string) bool {
	name = filepath.Base(name)
	if !strings.HasSuffix(name, ".jsonl") {
		return false
	}
	stem := strings.TrimSuffix(name, ".jsonl")
	if strings.HasPrefix(stem, SubAgentPrefix) {
		return true
	}
	return uuid.Validate(stem) == nil
}

// FileID returns the filename stem used as the session or agent id.
func FileID(name string) string {
	return strings.TrimSuffix(filepath.Base(name), ".jsonl")
}

// ListSessionFiles returns the session logs directly inside dir, sorted by
// modification time (oldest first). Inaccessible entries are skipped.
func ListSessionFiles(dir string) ([]SessionFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []SessionFile
	for _, e := range entries {
		if e.IsDir() || !IsSessionFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, SessionFile{
			Path:       filepath.Join(dir, e.Name()),
			SessionID:  FileID(e.Name()),
			IsSubAgent: IsSubAgentFile(e.Name()),
			ModTime:    info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ModTime.Before(files[j].ModTime)
	})
	return files, nil
}

// FindSessionFile locates a session's primary transcript by id under the
// log root, checking each project directory.
func FindSessionFile(root, sessionID string) (string, error) {
	filename := sessionID + ".jsonl"

	entries, err := os.ReadDir(root)
	if err != nil {
		return "", err
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		candidate := filepath.Join(root, e.Name(), filename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", os.ErrNotExist
}
