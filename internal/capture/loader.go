// Package capture turns capture files into ordered packet records.
package capture

import (
	"context"
	"fmt"
	"iter"
	"os"

	"github.com/pkg/errors"

	"wstrace/internal/models"
)

// Loader produces the packets of a capture file. The returned sequence
// restarts from the first packet every time it is ranged over.
type Loader interface {
	Load(ctx context.Context, path string) (iter.Seq2[models.Packet, error], error)
}

// ReadError is fatal: the capture could not be read or dissected.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("%s: %s: %v", models.CaptureReadError, e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

func (e *ReadError) Kind() models.ErrorKind { return models.CaptureReadError }

// NewReadError wraps err with the capture path.
func NewReadError(path string, err error) *ReadError {
	return &ReadError{Path: path, Err: err}
}

// CheckReadable fails with a ReadError unless path is a readable regular file.
func CheckReadable(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return NewReadError(path, errors.Wrap(err, "stat capture"))
	}
	if fi.IsDir() {
		return NewReadError(path, errors.New("capture path is a directory"))
	}
	f, err := os.Open(path)
	if err != nil {
		return NewReadError(path, errors.Wrap(err, "open capture"))
	}
	return f.Close()
}

// SliceLoader serves a fixed packet list, ignoring the path.
type SliceLoader struct {
	Packets []models.Packet
	// Err, when set, is yielded after the packets.
	Err error
}

func (s *SliceLoader) Load(ctx context.Context, path string) (iter.Seq2[models.Packet, error], error) {
	return func(yield func(models.Packet, error) bool) {
		for _, p := range s.Packets {
			if ctx.Err() != nil {
				return
			}
			if !yield(p, nil) {
				return
			}
		}
		if s.Err != nil {
			yield(models.Packet{}, NewReadError(path, s.Err))
		}
	}, nil
}
