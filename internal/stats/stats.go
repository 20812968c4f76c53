// Package stats folds the ordered record stream into a cumulative,
// queryable session view: counters, token sums, tool-call correlation and
// the ledgers derived from snapshot records.
package stats

import (
	"sync"
	"time"

	"github.com/johns/agenttail/internal/record"
)

// ToolCorrelation pairs a tool invocation with its eventual result.
type ToolCorrelation struct {
	Tool     string
	CallAt   time.Time
	ResultAt time.Time
	Duration time.Duration
	Success  bool
}

// SystemEvent is one system record in arrival order.
type SystemEvent struct {
	Timestamp time.Time
	Subtype   string
	Level     string
	Content   string
}

// FileBackup is one entry of the backup ledger built from file-history
// snapshots.
type FileBackup struct {
	Path     string
	Version  int
	BackupAt time.Time
}

// Session is the cumulative view of one monitored session. All counters
// grow monotonically; Todos reflects only the newest snapshot.
type Session struct {
	SessionID string

	RecordsByType map[record.Type]int

	UserMessages      int // human turns, tool-result deliveries excluded
	AssistantMessages int
	SubAgentRecords   int

	InputTokens  int
	OutputTokens int
	CacheReads   int
	CacheWrites  int

	ToolCalls   int
	ToolResults int
	ToolCounts  map[string]int
	ModelCounts map[string]int

	// Correlations holds completed call/result pairs keyed by tool-use
	// id. Calls still awaiting a result are not included.
	Correlations map[string]ToolCorrelation

	Backups       []FileBackup
	ModifiedFiles map[string]bool
	Todos         []record.Todo
	Summaries     []string
	SystemEvents  []SystemEvent
}

// Aggregator consumes the record stream. All mutation happens on the bus
// delivery path; Snapshot may be called from any goroutine.
type Aggregator struct {
	mu      sync.Mutex
	s       Session
	pending map[string]ToolCorrelation
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		s: Session{
			RecordsByType: make(map[record.Type]int),
			ToolCounts:    make(map[string]int),
			ModelCounts:   make(map[string]int),
			Correlations:  make(map[string]ToolCorrelation),
			ModifiedFiles: make(map[string]bool),
		},
		pending: make(map[string]ToolCorrelation),
	}
}

// Handle folds one record into the session view. It is the bus subscriber.
func (a *Aggregator) Handle(rec *record.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.s.RecordsByType[rec.Type]++
	if a.s.SessionID == "" && rec.SessionID != "" {
		a.s.SessionID = rec.SessionID
	}
	if rec.IsSubAgent {
		a.s.SubAgentRecords++
	}

	switch rec.Type {
	case record.TypeAssistant:
		a.handleAssistant(rec)
	case record.TypeUser:
		a.handleUser(rec)
	case record.TypeSystem:
		a.s.SystemEvents = append(a.s.SystemEvents, SystemEvent{
			Timestamp: rec.Timestamp,
			Subtype:   rec.System.Subtype,
			Level:     rec.System.Level,
			Content:   rec.System.Content,
		})
	case record.TypeSummary:
		a.s.Summaries = append(a.s.Summaries, rec.Summary.Summary)
	case record.TypeFileHistorySnapshot:
		for _, b := range rec.FileHistory.Backups {
			a.s.Backups = append(a.s.Backups, FileBackup{
				Path:     b.Path,
				Version:  b.Version,
				BackupAt: b.BackupAt,
			})
			a.s.ModifiedFiles[b.Path] = true
		}
	}
}

func (a *Aggregator) handleAssistant(rec *record.Record) {
	msg := rec.Assistant
	a.s.AssistantMessages++

	if msg.Model != "" {
		a.s.ModelCounts[msg.Model]++
	}

	a.s.InputTokens += msg.Usage.InputTokens
	a.s.OutputTokens += msg.Usage.OutputTokens
	a.s.CacheReads += msg.Usage.CacheReadInputTokens
	a.s.CacheWrites += msg.Usage.CacheCreationInputTokens

	for _, tu := range msg.ToolUses() {
		a.s.ToolCalls++
		a.s.ToolCounts[tu.Name]++

		// First tool_use wins for a given id: a repeated id never
		// reopens or overwrites an existing correlation.
		if _, open := a.pending[tu.ID]; open {
			continue
		}
		if _, done := a.s.Correlations[tu.ID]; done {
			continue
		}
		a.pending[tu.ID] = ToolCorrelation{Tool: tu.Name, CallAt: rec.Timestamp}
	}
}

func (a *Aggregator) handleUser(rec *record.Record) {
	msg := rec.User

	results := msg.ToolResults()
	if len(results) == 0 {
		a.s.UserMessages++
	}

	for _, tr := range results {
		a.s.ToolResults++

		// Unmatched results (truncated history) are counted but not
		// correlated.
		call, ok := a.pending[tr.ToolUseID]
		if !ok {
			continue
		}
		delete(a.pending, tr.ToolUseID)

		call.ResultAt = rec.Timestamp
		call.Success = !tr.IsError
		if d := call.ResultAt.Sub(call.CallAt); d > 0 {
			call.Duration = d
		}
		a.s.Correlations[tr.ToolUseID] = call
	}

	// A todo snapshot replaces the previous view outright.
	if msg.Todos != nil {
		a.s.Todos = append([]record.Todo(nil), msg.Todos...)
	}
}

// PendingCalls returns the number of tool calls still awaiting a result.
func (a *Aggregator) PendingCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Snapshot returns a deep copy of the current session view, safe to read
// while the stream is still flowing.
func (a *Aggregator) Snapshot() Session {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := a.s
	out.RecordsByType = copyMap(a.s.RecordsByType)
	out.ToolCounts = copyMap(a.s.ToolCounts)
	out.ModelCounts = copyMap(a.s.ModelCounts)
	out.Correlations = copyMap(a.s.Correlations)
	out.ModifiedFiles = copyMap(a.s.ModifiedFiles)
	out.Backups = append([]FileBackup(nil), a.s.Backups...)
	out.Todos = append([]record.Todo(nil), a.s.Todos...)
	out.Summaries = append([]string(nil), a.s.Summaries...)
	out.SystemEvents = append([]SystemEvent(nil), a.s.SystemEvents...)
	return out
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
