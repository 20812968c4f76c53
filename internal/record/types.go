// Package record defines the typed model for agent session log entries and
// parses raw JSONL lines into it.
package record

import (
	"encoding/json"
	"strings"
	"time"
)

// Type tags the variant a Record carries.
type Type string

const (
	TypeAssistant           Type = "assistant"
	TypeUser                Type = "user"
	TypeSystem              Type = "system"
	TypeSummary             Type = "summary"
	TypeFileHistorySnapshot Type = "file-history-snapshot"
)

// Record is one parsed log entry. Exactly one of the variant pointers
// matching Type is non-nil.
type Record struct {
	Type       Type
	UUID       string
	ParentUUID string
	SessionID  string
	AgentID    string
	Timestamp  time.Time

	// IsSubAgent marks records read from a sidecar file produced by a
	// parallel sub-agent. Set by the watcher, not by the parser, except
	// when the line itself carries an agent id.
	IsSubAgent bool

	Assistant   *Assistant
	User        *User
	System      *System
	Summary     *Summary
	FileHistory *FileHistory
}

// Assistant is a model turn: ordered content blocks plus usage accounting.
type Assistant struct {
	Model      string
	StopReason string
	// Truncated is set when the turn is a compaction artifact rather
	// than a live completion.
	Truncated bool
	Content   []ContentBlock
	Usage     Usage
}

// User is a human turn or a tool-result delivery.
type User struct {
	// Text is set when the message content was a plain string.
	Text string
	// Content holds the block form, including tool_result blocks.
	Content []ContentBlock
	// Todos is the todo-list snapshot attached to this entry, if any.
	// A snapshot replaces any previous one; it is never merged.
	Todos []Todo
	// Exec carries tool execution metadata when present.
	Exec *ExecMeta
}

// System is a diagnostic or lifecycle entry emitted by the agent runtime.
type System struct {
	Subtype string
	Content string
	Level   string
	IsMeta  bool
}

// Summary is a compacted-conversation summary entry.
type Summary struct {
	Summary  string
	LeafUUID string
}

// FileHistory records a snapshot of files the agent backed up before
// modifying them.
type FileHistory struct {
	MessageID string
	Backups   []FileBackup
}

// FileBackup is one file in a history snapshot.
type FileBackup struct {
	Path     string
	Version  int
	BackupAt time.Time
}

// ContentBlock is one element of a message content array. The Type field
// selects which of the remaining fields are meaningful, mirroring the wire
// format rather than splitting into separate structs.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`

	// tool_use fields. Input is kept opaque: callers that care about a
	// specific tool's arguments unmarshal it themselves.
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result fields. Content may be a string or a nested block
	// array on the wire, so it stays raw here; ResultText flattens it.
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// Usage tracks token consumption for one assistant turn.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`

	ServerToolUse struct {
		WebSearchRequests int `json:"web_search_requests"`
		WebFetchRequests  int `json:"web_fetch_requests"`
	} `json:"server_tool_use"`
}

// Todo is one item of a todo-list snapshot.
type Todo struct {
	Content    string `json:"content"`
	Status     string `json:"status"`
	ActiveForm string `json:"activeForm,omitempty"`
}

// ExecMeta is the tool execution metadata attached to tool-result entries.
type ExecMeta struct {
	HasStdout   bool
	HasStderr   bool
	Interrupted bool
	IsImage     bool
}

// ToolResults returns the tool_result blocks of a user record, nil for
// plain text messages.
func (u *User) ToolResults() []ContentBlock {
	var out []ContentBlock
	for _, b := range u.Content {
		if b.Type == "tool_result" {
			out = append(out, b)
		}
	}
	return out
}

// IsToolResult reports whether the user record delivers tool results
// rather than human input.
func (u *User) IsToolResult() bool {
	return len(u.ToolResults()) > 0
}

// ToolUses returns the tool_use blocks of an assistant record, in order.
func (a *Assistant) ToolUses() []ContentBlock {
	var out []ContentBlock
	for _, b := range a.Content {
		if b.Type == "tool_use" {
			out = append(out, b)
		}
	}
	return out
}

// TextContent joins the text blocks of an assistant record, ignoring
// thinking and tool_use blocks.
func (a *Assistant) TextContent() string {
	var parts []string
	for _, b := range a.Content {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}
