// Package archive compresses finished session transcripts for retention,
// optionally scrubbing credential-shaped text on the way through.
package archive

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/johns/agenttail/internal/sanitize"
)

// Archive compresses the transcript at srcPath into dir/<session-id>.jsonl.zst
// and returns the archive path. With redact set, each line is passed
// through the sanitizer before compression.
func Archive(srcPath, dir string, redact bool) (string, error) {
	sessionID := sessionIDFromPath(srcPath)
	if sessionID == "" {
		return "", fmt.Errorf("cannot extract session ID from %s", srcPath)
	}

	destPath := Path(sessionID, dir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("open transcript: %w", err)
	}
	defer src.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	defer dest.Close()

	encoder, err := zstd.NewWriter(dest)
	if err != nil {
		return "", fmt.Errorf("create zstd encoder: %w", err)
	}

	if redact {
		err = copyRedacted(encoder, src)
	} else {
		_, err = io.Copy(encoder, src)
	}
	if err != nil {
		encoder.Close()
		return "", fmt.Errorf("compress: %w", err)
	}

	if err := encoder.Close(); err != nil {
		return "", fmt.Errorf("finalize compression: %w", err)
	}

	return destPath, nil
}

// copyRedacted streams src to w line by line, masking secrets. Lines are
// JSON, so redaction operates on the raw text and leaves structure alone.
func copyRedacted(w io.Writer, src io.Reader) error {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024)

	for scanner.Scan() {
		line := sanitize.Redact(scanner.Text())
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// Decompress decompresses archivePath to a temp file. Returns the temp
// file path and a cleanup function the caller must defer.
func Decompress(archivePath string) (string, func(), error) {
	src, err := os.Open(archivePath)
	if err != nil {
		return "", nil, fmt.Errorf("open archive: %w", err)
	}
	defer src.Close()

	decoder, err := zstd.NewReader(src)
	if err != nil {
		return "", nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer decoder.Close()

	tmp, err := os.CreateTemp("", "agenttail-decompress-*.jsonl")
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}

	if _, err := io.Copy(tmp, decoder); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("decompress: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("close temp: %w", err)
	}

	cleanup := func() { os.Remove(tmp.Name()) }
	return tmp.Name(), cleanup, nil
}

// IsArchived returns true if an archive exists for the given session ID.
func IsArchived(sessionID, dir string) bool {
	_, err := os.Stat(Path(sessionID, dir))
	return err == nil
}

// Path returns the deterministic archive path for a session ID.
func Path(sessionID, dir string) string {
	return filepath.Join(dir, sessionID+".jsonl.zst")
}

func sessionIDFromPath(path string) string {
	base := filepath.Base(path)
	switch {
	case strings.HasSuffix(base, ".jsonl"):
		return strings.TrimSuffix(base, ".jsonl")
	case strings.HasSuffix(base, ".jsonl.zst"):
		return strings.TrimSuffix(base, ".jsonl.zst")
	}
	return ""
}
