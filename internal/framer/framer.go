// Package framer turns arbitrarily chunked byte reads of a growing file
// into complete text lines without splitting multi-byte characters.
package framer

import (
	"bytes"
	"strings"
)

// MaxChunk is the upper bound on bytes consumed from a file in one pass.
// A file that bursts with more data than this is caught up over
// subsequent passes.
const MaxChunk = 1 << 20 // 1 MiB

// Framer tracks the read position and unterminated tail of one file.
// The zero value is ready to use. Framer is not safe for concurrent use;
// callers serialize access per file.
type Framer struct {
	offset int64
	tail   []byte
}

// Offset returns the byte position of the next read, i.e. bytes already
// consumed from the file.
func (f *Framer) Offset() int64 {
	return f.offset
}

// SkipTo moves the read position forward without emitting lines. Used to
// start tailing at end-of-file when pre-existing content is excluded.
func (f *Framer) SkipTo(offset int64) {
	f.offset = offset
	f.tail = nil
}

// Reset discards all state so framing restarts from byte zero. Called when
// the file shrinks below the recorded offset (truncation or rotation).
func (f *Framer) Reset() {
	f.offset = 0
	f.tail = nil
}

// CheckTruncation resets the framer if the observed file size is smaller
// than the consumed offset. Returns true if a reset happened.
func (f *Framer) CheckTruncation(size int64) bool {
	if size < f.offset {
		f.Reset()
		return true
	}
	return false
}

// Feed consumes a chunk read from the file at the current offset and
// returns the complete lines it unlocked, in order. Bytes after the last
// newline are buffered as the pending tail; if the chunk contains no
// newline the whole combined buffer is buffered and no line is returned.
// Splitting only ever happens at a newline byte, so a multi-byte character
// straddling two reads is never decoded in halves.
func (f *Framer) Feed(chunk []byte) []string {
	f.offset += int64(len(chunk))
	if len(f.tail) > 0 {
		chunk = append(f.tail, chunk...)
		f.tail = nil
	}

	last := bytes.LastIndexByte(chunk, '\n')
	if last < 0 {
		f.tail = append([]byte(nil), chunk...)
		return nil
	}

	if rest := chunk[last+1:]; len(rest) > 0 {
		f.tail = append([]byte(nil), rest...)
	}

	var lines []string
	for _, raw := range bytes.Split(chunk[:last], []byte{'\n'}) {
		line := strings.TrimSuffix(string(raw), "\r")
		lines = append(lines, line)
	}
	return lines
}

// Pending returns the number of buffered tail bytes. Mostly useful in
// tests and diagnostics.
func (f *Framer) Pending() int {
	return len(f.tail)
}
