package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// entry mirrors the wire shape of one log line. Only the fields the typed
// model needs are declared; everything else is ignored by the decoder.
type entry struct {
	Type       string    `json:"type"`
	UUID       string    `json:"uuid"`
	ParentUUID string    `json:"parentUuid"`
	SessionID  string    `json:"sessionId"`
	AgentID    string    `json:"agentId"`
	Timestamp  time.Time `json:"timestamp"`

	IsSidechain bool `json:"isSidechain"`
	IsMeta      bool `json:"isMeta"`

	Message *struct {
		Role       string          `json:"role"`
		Model      string          `json:"model"`
		StopReason string          `json:"stop_reason"`
		Content    json.RawMessage `json:"content"`
		Usage      *Usage          `json:"usage"`
	} `json:"message"`

	IsCompactSummary bool `json:"isCompactSummary"`

	// system fields
	Subtype string `json:"subtype"`
	Content string `json:"content"`
	Level   string `json:"level"`

	// summary fields
	Summary  string `json:"summary"`
	LeafUUID string `json:"leafUuid"`

	// file-history-snapshot fields
	MessageID string `json:"messageId"`
	Snapshot  *struct {
		TrackedFileBackups map[string]struct {
			Version    int       `json:"version"`
			BackupTime time.Time `json:"backupTime"`
		} `json:"trackedFileBackups"`
	} `json:"snapshot"`

	// tool execution metadata on user entries delivering tool results
	ToolUseResult json.RawMessage `json:"toolUseResult"`
}

// toolUseResult is the object form of entry.ToolUseResult. The field is a
// plain string on some entries, so it is decoded lazily.
type toolUseResult struct {
	Stdout      string `json:"stdout"`
	Stderr      string `json:"stderr"`
	Interrupted bool   `json:"interrupted"`
	IsImage     bool   `json:"isImage"`
	NewTodos    []Todo `json:"newTodos"`
	Todos       []Todo `json:"todos"`
}

// ParseLine decodes one JSONL line into a Record. Blank lines and lines
// whose type tag is unknown yield (nil, nil): they are consumed without
// producing a record. Malformed JSON yields an error; the caller treats
// the line as consumed either way.
func ParseLine(line []byte) (*Record, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, nil
	}

	var e entry
	if err := json.Unmarshal(line, &e); err != nil {
		return nil, fmt.Errorf("decode line: %w", err)
	}

	rec := &Record{
		UUID:       e.UUID,
		ParentUUID: e.ParentUUID,
		SessionID:  e.SessionID,
		AgentID:    e.AgentID,
		Timestamp:  e.Timestamp,
		IsSubAgent: e.IsSidechain || e.AgentID != "",
	}

	switch e.Type {
	case "assistant":
		rec.Type = TypeAssistant
		rec.Assistant = parseAssistant(&e)
	case "user":
		rec.Type = TypeUser
		rec.User = parseUser(&e)
	case "system":
		rec.Type = TypeSystem
		rec.System = &System{
			Subtype: e.Subtype,
			Content: e.Content,
			Level:   e.Level,
			IsMeta:  e.IsMeta,
		}
	case "summary":
		rec.Type = TypeSummary
		rec.Summary = &Summary{Summary: e.Summary, LeafUUID: e.LeafUUID}
	case "file-history-snapshot":
		rec.Type = TypeFileHistorySnapshot
		rec.FileHistory = parseFileHistory(&e)
	default:
		// Unknown types (progress, queued-command, future additions)
		// are consumed silently.
		return nil, nil
	}

	return rec, nil
}

func parseAssistant(e *entry) *Assistant {
	a := &Assistant{Truncated: e.IsCompactSummary}
	if e.Message == nil {
		return a
	}
	a.Model = e.Message.Model
	a.StopReason = e.Message.StopReason
	if e.Message.Usage != nil {
		a.Usage = *e.Message.Usage
	}
	_, a.Content = decodeContent(e.Message.Content)
	return a
}

func parseUser(e *entry) *User {
	u := &User{}
	if e.Message != nil {
		u.Text, u.Content = decodeContent(e.Message.Content)
	}

	if len(e.ToolUseResult) > 0 && e.ToolUseResult[0] == '{' {
		var tr toolUseResult
		if err := json.Unmarshal(e.ToolUseResult, &tr); err == nil {
			u.Exec = &ExecMeta{
				HasStdout:   tr.Stdout != "",
				HasStderr:   tr.Stderr != "",
				Interrupted: tr.Interrupted,
				IsImage:     tr.IsImage,
			}
			// TodoWrite reports the snapshot as newTodos; older
			// entries used todos.
			if tr.NewTodos != nil {
				u.Todos = tr.NewTodos
			} else if tr.Todos != nil {
				u.Todos = tr.Todos
			}
		}
	}

	return u
}

func parseFileHistory(e *entry) *FileHistory {
	fh := &FileHistory{MessageID: e.MessageID}
	if e.Snapshot == nil {
		return fh
	}
	for path, b := range e.Snapshot.TrackedFileBackups {
		fh.Backups = append(fh.Backups, FileBackup{
			Path:     path,
			Version:  b.Version,
			BackupAt: b.BackupTime,
		})
	}
	return fh
}

// decodeContent handles the two wire forms of message content: a plain
// string or an ordered array of blocks. Block order is preserved.
func decodeContent(raw json.RawMessage) (string, []ContentBlock) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", nil
		}
		return s, nil
	case '[':
		var blocks []ContentBlock
		if err := json.Unmarshal(raw, &blocks); err != nil {
			return "", nil
		}
		return "", blocks
	}
	return "", nil
}

// ResultText flattens a tool_result block's content to plain text. The
// wire form is either a string or an array of text blocks.
func (b ContentBlock) ResultText() string {
	raw := bytes.TrimSpace(b.Content)
	if len(raw) == 0 {
		return ""
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	case '[':
		var inner []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(raw, &inner); err != nil {
			return ""
		}
		var parts []string
		for _, blk := range inner {
			if blk.Type == "text" && blk.Text != "" {
				parts = append(parts, blk.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}
