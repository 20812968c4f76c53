// Package watch tails an agent's session log directory: it discovers the
// primary transcript and any sub-agent sidecars (surviving creation
// races), reads newly appended bytes, and emits parsed, de-duplicated
// records in one consistent order.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/johns/agenttail/internal/bus"
	"github.com/johns/agenttail/internal/dedup"
	"github.com/johns/agenttail/internal/discover"
	"github.com/johns/agenttail/internal/framer"
	"github.com/johns/agenttail/internal/record"
)

// State is the monitor lifecycle phase.
type State int

const (
	Stopped State = iota
	Starting
	Watching
)

// Defaults for Options fields left zero.
const (
	DefaultPollInterval      = 100 * time.Millisecond
	DefaultCreationTolerance = 2 * time.Second
)

// Options configures a Monitor. Either WorkingDir or SessionID selects
// what to watch; SessionID takes precedence.
type Options struct {
	// WorkingDir is the directory the external agent runs in. Its
	// project log directory is derived from it.
	WorkingDir string

	// SessionID bypasses discovery: the session's transcript is located
	// by name under the log root, and its containing directory is
	// watched for sidecar files.
	SessionID string

	// Root overrides the log root (default ~/.claude/projects).
	Root string

	// IncludeExisting emits the full current content of adopted files
	// instead of only lines appended after watching starts.
	IncludeExisting bool

	// CreationTolerance backdates the start-of-watching instant so files
	// created this long before Start are treated as part of the run.
	CreationTolerance time.Duration

	// PollInterval is the unconditional re-scan and re-read cadence.
	PollInterval time.Duration

	// DedupCapacity bounds the seen-record set (default 100,000).
	DedupCapacity int
}

// Monitor tails session log files and publishes records to subscribers.
// All exported methods are safe for concurrent use.
type Monitor struct {
	opts Options
	bus  *bus.Bus
	seen *dedup.Set

	mu        sync.Mutex
	state     State
	files     map[string]*trackedFile
	watched   map[string]bool // directories added to the fsnotify watcher
	sessionID string
	primary   string // path of the primary transcript, "" until discovered
	watchDir  string // session directory, "" until known
	epoch     time.Time
	watcher   *fsnotify.Watcher
	cancel    context.CancelFunc
	group     *errgroup.Group
}

// trackedFile is the per-file tail state. busy is the non-blocking
// in-flight guard: a read triggered while another is running is dropped,
// the next poll tick catches up.
type trackedFile struct {
	path    string
	primary bool
	agentID string
	busy    atomic.Bool
	fr      framer.Framer
}

// New returns a Monitor for the given options. Nothing is watched until
// Start.
func New(opts Options) *Monitor {
	if opts.Root == "" {
		opts.Root = discover.DefaultRoot()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.CreationTolerance <= 0 {
		opts.CreationTolerance = DefaultCreationTolerance
	}
	return &Monitor{
		opts: opts,
		bus:  bus.New(),
		seen: dedup.NewSet(opts.DedupCapacity),
	}
}

// Subscribe registers a record handler; the returned function removes it.
func (m *Monitor) Subscribe(h bus.Handler) func() {
	return m.bus.Subscribe(h)
}

// OnError registers a handler for non-fatal diagnostics.
func (m *Monitor) OnError(h bus.ErrorHandler) func() {
	return m.bus.OnError(h)
}

// SessionID returns the session identifier once known: the configured one,
// or the id derived from the first primary file discovered.
func (m *Monitor) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// State returns the current lifecycle phase.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start begins watching. Change notifications are attached if the
// platform supports them; if the watcher cannot be created the monitor
// reports it once and continues in polling-only mode.
func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.state != Stopped {
		m.mu.Unlock()
		return errors.New("monitor already started")
	}
	m.state = Starting
	m.files = make(map[string]*trackedFile)
	m.watched = make(map[string]bool)
	m.primary = ""
	m.sessionID = m.opts.SessionID
	m.epoch = time.Now().Add(-m.opts.CreationTolerance)

	if m.opts.SessionID == "" {
		m.watchDir = discover.ProjectDir(m.opts.Root, m.opts.WorkingDir)
	} else {
		// Located on first scan; the file may not exist yet.
		m.watchDir = ""
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		watcher = nil
	}
	m.watcher = watcher

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	g, ctx := errgroup.WithContext(ctx)
	m.group = g
	m.state = Watching
	m.mu.Unlock()

	if watcher == nil {
		m.bus.ReportError(fmt.Errorf("watch setup: %w (continuing in polling-only mode)", err))
	} else {
		g.Go(func() error {
			m.notifyLoop(ctx)
			return nil
		})
	}

	g.Go(func() error {
		m.pollLoop(ctx)
		return nil
	})

	// Adopt anything already on disk before the first tick.
	m.scan()
	return nil
}

// Stop cancels the poll loop and tears down all watches. It is a no-op
// once the monitor is stopped; in-flight reads finish without corrupting
// offsets.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.state == Stopped {
		m.mu.Unlock()
		return
	}
	m.state = Stopped
	cancel := m.cancel
	watcher := m.watcher
	group := m.group
	m.watcher = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if watcher != nil {
		watcher.Close()
	}
	if group != nil {
		group.Wait()
	}
}

// pollLoop drives the fixed-interval tick for the lifetime of monitoring.
// Every tick re-scans unconditionally: change notifications are treated
// as an optimization, never as the source of truth.
func (m *Monitor) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.scan()
			for _, tf := range m.trackedFiles() {
				m.readFile(tf)
			}
		}
	}
}

// notifyLoop reacts to filesystem change notifications. Both this path
// and the poll tick funnel into the same scan/read operations.
func (m *Monitor) notifyLoop(ctx context.Context) {
	m.mu.Lock()
	watcher := m.watcher
	m.mu.Unlock()
	if watcher == nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if tf := m.tracked(ev.Name); tf != nil {
				m.readFile(tf)
				continue
			}
			// A new file or the session directory itself appeared.
			m.scan()
			for _, tf := range m.trackedFiles() {
				m.readFile(tf)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.bus.ReportError(fmt.Errorf("watch notification: %w", err))
		}
	}
}

// scan is the idempotent track-file operation both producers converge on.
// Directory and file access errors are swallowed; the next tick retries.
func (m *Monitor) scan() {
	m.mu.Lock()
	if m.state != Watching {
		m.mu.Unlock()
		return
	}

	// Explicit session mode: locate the transcript by name until found.
	if m.opts.SessionID != "" && m.watchDir == "" {
		if path, err := discover.FindSessionFile(m.opts.Root, m.opts.SessionID); err == nil {
			m.watchDir = filepath.Dir(path)
		}
	}

	m.ensureWatchesLocked()

	dir := m.watchDir
	m.mu.Unlock()
	if dir == "" {
		return
	}

	files, err := discover.ListSessionFiles(dir)
	if err != nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Watching {
		return
	}
	for _, f := range files {
		m.trackFileLocked(f)
	}
}

// trackFileLocked adopts one discovered file. Already-tracked paths are
// left untouched. The first file that does not follow the sidecar naming
// convention becomes the primary transcript and fixes the session id;
// every other file is a sub-agent sidecar.
func (m *Monitor) trackFileLocked(f discover.SessionFile) {
	if _, ok := m.files[f.Path]; ok {
		return
	}

	tf := &trackedFile{path: f.Path}
	isPrimary := m.primary == "" && !f.IsSubAgent
	if isPrimary && m.opts.SessionID != "" {
		// Explicit session mode: only the named transcript is primary,
		// whatever else shares the directory.
		isPrimary = f.SessionID == m.opts.SessionID
	}
	if isPrimary {
		tf.primary = true
		m.primary = f.Path
		if m.sessionID == "" {
			m.sessionID = f.SessionID
		}
	} else {
		tf.agentID = f.SessionID
	}

	// Pre-existing content is skipped unless requested; files written
	// within the creation-tolerance window count as part of this run
	// and are read from the beginning.
	if !m.opts.IncludeExisting && f.ModTime.Before(m.epoch) {
		if info, err := os.Stat(f.Path); err == nil {
			tf.fr.SkipTo(info.Size())
		}
	}

	m.files[f.Path] = tf
}

// ensureWatchesLocked keeps the fsnotify watch set aligned with what is
// known: the session directory once it exists, otherwise the log root so
// the directory's creation is observed.
func (m *Monitor) ensureWatchesLocked() {
	if m.watcher == nil {
		return
	}

	addDir := func(dir string) {
		if dir == "" || m.watched[dir] {
			return
		}
		if err := m.watcher.Add(dir); err == nil {
			m.watched[dir] = true
		}
	}

	if m.watchDir != "" {
		if _, err := os.Stat(m.watchDir); err == nil {
			addDir(m.watchDir)
			return
		}
	}
	addDir(m.opts.Root)
}

// tracked returns the tracked file for a path, nil if unknown.
func (m *Monitor) tracked(path string) *trackedFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.files[path]
}

// trackedFiles snapshots the current file set.
func (m *Monitor) trackedFiles() []*trackedFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*trackedFile, 0, len(m.files))
	for _, tf := range m.files {
		out = append(out, tf)
	}
	return out
}

// readFile reads newly appended bytes of one file and emits the complete
// lines they unlock. Concurrent triggers for the same file are dropped,
// not queued; transient I/O errors are swallowed and retried next tick.
func (m *Monitor) readFile(tf *trackedFile) {
	if !tf.busy.CompareAndSwap(false, true) {
		return
	}
	defer tf.busy.Store(false)

	f, err := os.Open(tf.path)
	if err != nil {
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return
	}

	tf.fr.CheckTruncation(info.Size())
	remaining := info.Size() - tf.fr.Offset()
	if remaining <= 0 {
		return
	}
	if remaining > framer.MaxChunk {
		remaining = framer.MaxChunk
	}

	if _, err := f.Seek(tf.fr.Offset(), io.SeekStart); err != nil {
		return
	}
	buf := make([]byte, remaining)
	n, _ := io.ReadFull(f, buf)
	if n == 0 {
		return
	}

	for _, line := range tf.fr.Feed(buf[:n]) {
		m.emitLine(tf, line)
	}
}

// emitLine parses, de-duplicates and publishes one framed line. Malformed
// lines are consumed: they are reported on the error channel and never
// retried.
func (m *Monitor) emitLine(tf *trackedFile, line string) {
	rec, err := record.ParseLine([]byte(line))
	if err != nil {
		m.bus.ReportError(fmt.Errorf("%s: %w", filepath.Base(tf.path), err))
		return
	}
	if rec == nil {
		return
	}

	if !tf.primary {
		rec.IsSubAgent = true
		if rec.AgentID == "" {
			rec.AgentID = tf.agentID
		}
	}

	if m.seen.TryMarkSeen(dedup.KeyFor(rec, []byte(line))) {
		m.bus.Publish(rec)
	}
}
