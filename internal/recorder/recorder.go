// Package recorder implements the Recorder boundary of spec.md §4.7: an
// append-only sink for raw framed messages, wired in by subscribing its
// Write method to a fire.Controller's generic message registry.
package recorder

import (
	"fmt"
	"os"
	"sync"

	"github.com/BluEye-Robotics/oculus-driver/internal/wire"
)

// Recorder is the boundary interface any durable message sink implements.
type Recorder interface {
	Open(path string, overwrite bool) error
	Close() error
	IsOpen() bool
	Write(msg wire.RawMessage) error
}

// FileRecorder appends raw framed messages, verbatim, to a file. It
// writes through a ".tmp" sibling and renames it into place on Close, so
// a reader never observes a partially-written recording — the same
// atomic-rename pattern the teacher uses for its own state file.
type FileRecorder struct {
	mu   sync.Mutex
	path string
	tmp  *os.File
}

// NewFileRecorder returns an unopened FileRecorder.
func NewFileRecorder() *FileRecorder {
	return &FileRecorder{}
}

// Open creates path+".tmp" for writing. If overwrite is false and path
// already exists, Open fails rather than silently clobbering a prior
// recording.
func (r *FileRecorder) Open(path string, overwrite bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("recorder: %s already exists", path)
		}
	}

	f, err := os.OpenFile(path+".tmp", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("recorder: open: %w", err)
	}
	r.path = path
	r.tmp = f
	return nil
}

// IsOpen reports whether a recording is currently in progress.
func (r *FileRecorder) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tmp != nil
}

// Write appends msg's header and payload, verbatim, to the open
// recording. It is a no-op, returning nil, if no recording is open —
// matching spec.md §4.7's description of the recorder as an optional,
// caller-attached sink.
func (r *FileRecorder) Write(msg wire.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tmp == nil {
		return nil
	}
	_, err := r.tmp.Write(msg.Bytes())
	if err != nil {
		return fmt.Errorf("recorder: write: %w", err)
	}
	return nil
}

// Close flushes and renames the temp file into place. Calling Close when
// no recording is open is a no-op.
func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tmp == nil {
		return nil
	}
	if err := r.tmp.Sync(); err != nil {
		r.tmp.Close()
		r.tmp = nil
		return fmt.Errorf("recorder: sync: %w", err)
	}
	tmpName := r.tmp.Name()
	if err := r.tmp.Close(); err != nil {
		r.tmp = nil
		return fmt.Errorf("recorder: close: %w", err)
	}
	path := r.path
	r.tmp = nil
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("recorder: rename: %w", err)
	}
	return nil
}
