package core

// streaming.go prepares raw request bodies for decoding without buffering them.
//
// Input is passed through x/text's UTF-8 decoder, which strips a leading
// byte-order mark and replaces invalid byte sequences with U+FFFD, and then
// through a counting reader used for progress reporting.

import (
	"io"
	"sync/atomic"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// CountingReader tracks bytes read. BytesRead is safe to call from another
// goroutine while the reader is in use.
type CountingReader struct {
	reader io.Reader
	read   atomic.Int64
	Total  int64 // If known (0 if unknown)
}

// NewCountingReader creates a counting reader with an optional total size.
func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{reader: r, Total: total}
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.read.Add(int64(n))
	return n, err
}

// BytesRead returns the number of bytes read so far.
func (r *CountingReader) BytesRead() int64 {
	return r.read.Load()
}

// Progress returns the read progress as a percentage (0-100).
// Returns 0 if total is unknown.
func (r *CountingReader) Progress() int {
	if r.Total <= 0 {
		return 0
	}
	return int(r.BytesRead() * 100 / r.Total)
}

// NewSanitizingReader strips a UTF-8 byte-order mark and replaces invalid
// UTF-8 sequences.
func NewSanitizingReader(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.UTF8BOM.NewDecoder())
}

// WrapInput counts the raw bytes consumed from r and sanitizes them for
// the decoder. Counting happens first so progress reflects the request body.
func WrapInput(r io.Reader, totalSize int64) (io.Reader, *CountingReader) {
	counter := NewCountingReader(r, totalSize)
	return NewSanitizingReader(counter), counter
}
