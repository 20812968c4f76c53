package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/johns/agenttail/internal/archive"
	"github.com/johns/agenttail/internal/config"
	"github.com/johns/agenttail/internal/discover"
	"github.com/johns/agenttail/internal/record"
	"github.com/johns/agenttail/internal/sanitize"
	"github.com/johns/agenttail/internal/stats"
	"github.com/johns/agenttail/internal/watch"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fatal("load config: %v", err)
	}

	switch os.Args[1] {
	case "watch":
		if err := runWatch(os.Args[2:], cfg); err != nil {
			fatal("%v", err)
		}

	case "version":
		fmt.Printf("agenttail v%s\n", version)

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func runWatch(args []string, cfg config.Config) error {
	cwd := flagValue(args, "--cwd")
	if cwd == "" && flagValue(args, "--session") == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
		cwd = wd
	}

	opts := watch.Options{
		WorkingDir:        cwd,
		SessionID:         flagValue(args, "--session"),
		Root:              cfg.LogRoot,
		IncludeExisting:   cfg.Watch.IncludeExisting || hasFlag(args, "--include-existing"),
		CreationTolerance: cfg.Watch.CreationTolerance(),
		PollInterval:      cfg.Watch.PollInterval(),
		DedupCapacity:     cfg.Watch.DedupCapacity,
	}
	if root := flagValue(args, "--root"); root != "" {
		opts.Root = root
	}

	m := watch.New(opts)
	agg := stats.NewAggregator()
	m.Subscribe(agg.Handle)
	m.Subscribe(printRecord)
	m.OnError(func(err error) {
		log.Printf("warning: %v", err)
	})

	if err := m.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	m.Stop()

	fmt.Println()
	fmt.Print(stats.Format(agg.Snapshot()))

	if cfg.Archive.Enabled {
		archiveSession(m.SessionID(), opts.Root, cfg.Archive)
	}
	return nil
}

// printRecord writes a one-line digest of each record to stdout.
func printRecord(rec *record.Record) {
	prefix := string(rec.Type)
	if rec.IsSubAgent {
		prefix = "sub:" + prefix
	}

	switch rec.Type {
	case record.TypeAssistant:
		var parts []string
		if txt := rec.Assistant.TextContent(); txt != "" {
			parts = append(parts, firstLine(txt))
		}
		for _, tu := range rec.Assistant.ToolUses() {
			parts = append(parts, "→ "+tu.Name)
		}
		fmt.Printf("%-14s %s\n", prefix, strings.Join(parts, "  "))
	case record.TypeUser:
		if rec.User.IsToolResult() {
			fmt.Printf("%-14s tool result ×%d\n", prefix, len(rec.User.ToolResults()))
		} else {
			fmt.Printf("%-14s %s\n", prefix, firstLine(sanitize.StripTags(rec.User.Text)))
		}
	case record.TypeSystem:
		fmt.Printf("%-14s [%s] %s\n", prefix, rec.System.Subtype, firstLine(rec.System.Content))
	case record.TypeSummary:
		fmt.Printf("%-14s %s\n", prefix, firstLine(rec.Summary.Summary))
	case record.TypeFileHistorySnapshot:
		fmt.Printf("%-14s %d file(s) backed up\n", prefix, len(rec.FileHistory.Backups))
	}
}

func archiveSession(sessionID, root string, cfg config.ArchiveConfig) {
	if sessionID == "" {
		return
	}
	if root == "" {
		root = discover.DefaultRoot()
	}
	src, err := discover.FindSessionFile(root, sessionID)
	if err != nil {
		log.Printf("warning: transcript for %s not found, skipping archive", sessionID)
		return
	}
	dest, err := archive.Archive(src, cfg.Dir, cfg.Redact)
	if err != nil {
		log.Printf("warning: archive failed: %v", err)
		return
	}
	fmt.Printf("archived: %s\n", dest)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 100 {
		s = s[:100] + "…"
	}
	return s
}

func usage() {
	fmt.Fprintf(os.Stderr, `agenttail v%s — live tailing of agent session logs

Usage:
  agenttail watch [--cwd <dir>] [--session <id>] [--root <dir>] [--include-existing]
  agenttail version
  agenttail help

watch tails the session directory derived from --cwd (default: the current
directory) or the transcript named by --session, printing records as the
agent writes them. Ctrl-C prints session statistics and exits.

Configuration: ~/.config/agenttail/config.toml
`, version)
}

func flagValue(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "agenttail: "+format+"\n", args...)
	os.Exit(1)
}
