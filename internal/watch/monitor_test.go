package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/johns/agenttail/internal/record"
)

const (
	testCWD     = "/home/user/myproject"
	testProjDir = "-home-user-myproject"
	testSession = "0c7f3a10-1a2b-4c3d-8e4f-5a6b7c8d9e0f"
)

// collector is a subscriber capturing records for assertions.
type collector struct {
	mu   sync.Mutex
	recs []*record.Record
	errs []error
}

func (c *collector) handle(r *record.Record) {
	c.mu.Lock()
	c.recs = append(c.recs, r)
	c.mu.Unlock()
}

func (c *collector) handleErr(err error) {
	c.mu.Lock()
	c.errs = append(c.errs, err)
	c.mu.Unlock()
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.recs)
}

func (c *collector) errCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errs)
}

func (c *collector) records() []*record.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*record.Record(nil), c.recs...)
}

func userLine(uuid, text string) string {
	return fmt.Sprintf(`{"type":"user","uuid":%q,"sessionId":%q,"timestamp":"2026-02-22T10:00:00Z","message":{"role":"user","content":%q}}`,
		uuid, testSession, text)
}

func newTestMonitor(t *testing.T, root string, opts Options) (*Monitor, *collector) {
	t.Helper()
	opts.Root = root
	if opts.WorkingDir == "" && opts.SessionID == "" {
		opts.WorkingDir = testCWD
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 10 * time.Millisecond
	}

	m := New(opts)
	c := &collector{}
	m.Subscribe(c.handle)
	m.OnError(c.handleErr)
	t.Cleanup(m.Stop)

	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return m, c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func appendFile(t *testing.T, path, data string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(data); err != nil {
		t.Fatal(err)
	}
}

func TestEmitsAppendedLinesAcrossPartialWrites(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, testProjDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, testSession+".jsonl")

	_, c := newTestMonitor(t, root, Options{})

	// Two full lines plus a partial third in one write.
	third := userLine("u3", "three")
	appendFile(t, path, userLine("u1", "one")+"\n"+userLine("u2", "two")+"\n"+third[:20])

	waitFor(t, "first two records", func() bool { return c.count() == 2 })

	// The partial line must not be emitted, no matter how many ticks pass.
	time.Sleep(100 * time.Millisecond)
	if n := c.count(); n != 2 {
		t.Fatalf("got %d records while third line incomplete, want 2", n)
	}

	appendFile(t, path, third[20:]+"\n")
	waitFor(t, "third record", func() bool { return c.count() == 3 })

	recs := c.records()
	if recs[0].UUID != "u1" || recs[1].UUID != "u2" || recs[2].UUID != "u3" {
		t.Errorf("order = %s %s %s", recs[0].UUID, recs[1].UUID, recs[2].UUID)
	}
}

func TestDirectoryCreatedAfterStart(t *testing.T) {
	root := t.TempDir()
	_, c := newTestMonitor(t, root, Options{})

	// Directory and file appear only after watching began.
	dir := filepath.Join(root, testProjDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	appendFile(t, filepath.Join(dir, testSession+".jsonl"), userLine("u1", "late")+"\n")

	waitFor(t, "record from late directory", func() bool { return c.count() == 1 })
}

func TestSidecarFilesTaggedSubAgent(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, testProjDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	appendFile(t, filepath.Join(dir, testSession+".jsonl"), userLine("u1", "primary")+"\n")

	m, c := newTestMonitor(t, root, Options{})
	waitFor(t, "primary record", func() bool { return c.count() == 1 })

	if got := m.SessionID(); got != testSession {
		t.Fatalf("session id = %q, want %q", got, testSession)
	}

	// Sidecar discovered after the primary already exists.
	appendFile(t, filepath.Join(dir, "agent-worker1.jsonl"), userLine("u2", "from sidecar")+"\n")
	waitFor(t, "sidecar record", func() bool { return c.count() == 2 })

	if got := m.SessionID(); got != testSession {
		t.Errorf("session id changed to %q after sidecar", got)
	}

	var sidecar *record.Record
	for _, r := range c.records() {
		if r.UUID == "u2" {
			sidecar = r
		}
	}
	if sidecar == nil {
		t.Fatal("sidecar record not delivered")
	}
	if !sidecar.IsSubAgent || sidecar.AgentID != "agent-worker1" {
		t.Errorf("sidecar flags = %v %q", sidecar.IsSubAgent, sidecar.AgentID)
	}
}

func TestExplicitSessionSkipsExistingContent(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, testProjDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, testSession+".jsonl")
	appendFile(t, path, userLine("old1", "history")+"\n"+userLine("old2", "more history")+"\n")

	// Make the file clearly older than the creation-tolerance window.
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}

	m, c := newTestMonitor(t, root, Options{SessionID: testSession})
	if got := m.SessionID(); got != testSession {
		t.Fatalf("session id = %q", got)
	}

	appendFile(t, path, userLine("new1", "fresh")+"\n")
	waitFor(t, "fresh record", func() bool { return c.count() >= 1 })

	time.Sleep(50 * time.Millisecond)
	recs := c.records()
	if len(recs) != 1 || recs[0].UUID != "new1" {
		t.Errorf("expected only the appended record, got %d: %+v", len(recs), recs)
	}
}

func TestIncludeExistingEmitsHistory(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, testProjDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, testSession+".jsonl")
	appendFile(t, path, userLine("old1", "history")+"\n")

	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}

	_, c := newTestMonitor(t, root, Options{IncludeExisting: true})
	waitFor(t, "historical record", func() bool { return c.count() == 1 })
}

func TestDuplicateLinesEmittedOnce(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, testProjDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, testSession+".jsonl")

	_, c := newTestMonitor(t, root, Options{})

	line := userLine("u1", "once")
	appendFile(t, path, line+"\n")
	waitFor(t, "first emission", func() bool { return c.count() == 1 })

	// The identical record re-appended (restart re-scan shape) must not
	// re-emit.
	appendFile(t, path, line+"\n")
	time.Sleep(100 * time.Millisecond)
	if n := c.count(); n != 1 {
		t.Errorf("duplicate emitted: count = %d, want 1", n)
	}
}

func TestTruncationRestartsFromZero(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, testProjDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, testSession+".jsonl")

	_, c := newTestMonitor(t, root, Options{})

	appendFile(t, path, userLine("u1", "before rotation")+"\n")
	waitFor(t, "record before truncation", func() bool { return c.count() == 1 })

	// Rotate: truncate to zero, then write a fresh line.
	if err := os.Truncate(path, 0); err != nil {
		t.Fatal(err)
	}
	appendFile(t, path, userLine("u2", "after rotation")+"\n")

	waitFor(t, "record after truncation", func() bool { return c.count() == 2 })
	recs := c.records()
	if recs[1].UUID != "u2" {
		t.Errorf("post-rotation record = %q", recs[1].UUID)
	}
	if c.errCount() != 0 {
		t.Errorf("truncation produced %d spurious errors", c.errCount())
	}
}

func TestMalformedLineReportedNotFatal(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, testProjDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, testSession+".jsonl")

	_, c := newTestMonitor(t, root, Options{})

	appendFile(t, path, "{not json at all\n"+userLine("u1", "still flows")+"\n")

	waitFor(t, "valid record after malformed line", func() bool { return c.count() == 1 })
	waitFor(t, "diagnostic for malformed line", func() bool { return c.errCount() == 1 })
}

func TestStopIsIdempotent(t *testing.T) {
	root := t.TempDir()
	m, _ := newTestMonitor(t, root, Options{})

	if m.State() != Watching {
		t.Fatalf("state = %v, want Watching", m.State())
	}
	m.Stop()
	if m.State() != Stopped {
		t.Fatalf("state = %v, want Stopped", m.State())
	}
	m.Stop() // no-op, must not panic or block
}

func TestRestartAfterStop(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, testProjDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, testSession+".jsonl")

	m, c := newTestMonitor(t, root, Options{})
	appendFile(t, path, userLine("u1", "first run")+"\n")
	waitFor(t, "record in first run", func() bool { return c.count() == 1 })

	m.Stop()
	if err := m.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := m.Start(); err == nil {
		t.Error("second Start while running should fail")
	}

	appendFile(t, path, userLine("u2", "second run")+"\n")
	waitFor(t, "record in second run", func() bool { return c.count() >= 2 })
}
