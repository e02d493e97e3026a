package core

import (
	"errors"
	"fmt"
	"io"
)

// ErrFileTooLarge is returned when an upload exceeds the configured size.
var ErrFileTooLarge = errors.New("file too large")

// countingReader tracks bytes read and fails once more than max bytes
// have been read. A max of 0 disables the limit.
type countingReader struct {
	reader    io.Reader
	BytesRead int64
	max       int64
}

// Read implements io.Reader.
func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	if r.max > 0 && r.BytesRead > r.max {
		return n, fmt.Errorf("%w: more than %d bytes", ErrFileTooLarge, r.max)
	}
	return n, err
}

// readUpload reads an upload fully, enforcing max.
func readUpload(r io.Reader, max int64) ([]byte, error) {
	cr := &countingReader{reader: r, max: max}
	data, err := io.ReadAll(cr)
	if err != nil {
		if errors.Is(err, ErrFileTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return data, nil
}
