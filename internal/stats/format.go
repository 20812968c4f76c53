package stats

import (
	"fmt"
	"sort"
	"strings"
)

// Format renders a Session as aligned terminal output.
func Format(s Session) string {
	var b strings.Builder

	b.WriteString("session\n")
	if s.SessionID != "" {
		fmt.Fprintf(&b, "  %-20s %s\n", "id", s.SessionID)
	}
	fmt.Fprintf(&b, "  %-20s %d user / %d assistant\n", "messages", s.UserMessages, s.AssistantMessages)
	if s.SubAgentRecords > 0 {
		fmt.Fprintf(&b, "  %-20s %d\n", "sub-agent records", s.SubAgentRecords)
	}

	b.WriteString("\nTokens\n")
	fmt.Fprintf(&b, "  %-20s %s in / %s out\n", "total", formatTokens(s.InputTokens), formatTokens(s.OutputTokens))
	fmt.Fprintf(&b, "  %-20s %s read / %s written\n", "cache", formatTokens(s.CacheReads), formatTokens(s.CacheWrites))

	if s.ToolCalls > 0 {
		b.WriteString("\nTools\n")
		fmt.Fprintf(&b, "  %-20s %d calls / %d results\n", "total", s.ToolCalls, s.ToolResults)
		for _, name := range sortedByCount(s.ToolCounts) {
			fmt.Fprintf(&b, "  %-20s %d\n", name, s.ToolCounts[name])
		}
	}

	if len(s.ModelCounts) > 0 {
		b.WriteString("\nModels\n")
		for _, name := range sortedByCount(s.ModelCounts) {
			fmt.Fprintf(&b, "  %-40s %d turns\n", name, s.ModelCounts[name])
		}
	}

	if len(s.ModifiedFiles) > 0 {
		b.WriteString("\nModified files\n")
		files := make([]string, 0, len(s.ModifiedFiles))
		for f := range s.ModifiedFiles {
			files = append(files, f)
		}
		sort.Strings(files)
		for _, f := range files {
			fmt.Fprintf(&b, "  %s\n", f)
		}
	}

	if len(s.Todos) > 0 {
		b.WriteString("\nTodos\n")
		for _, td := range s.Todos {
			fmt.Fprintf(&b, "  [%s] %s\n", td.Status, td.Content)
		}
	}

	return b.String()
}

// sortedByCount orders keys by descending count, name as tiebreak.
func sortedByCount(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}

func formatTokens(n int) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fk", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}
