// Package artifacts persists decrypted exchange bodies.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"wstrace/internal/models"
)

const (
	dirMode  = 0o755
	fileMode = 0o644
)

// WriteError reports one artifact that could not be written.
type WriteError struct {
	Flow     int
	Exchange int
	Side     models.Direction
	Path     string
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s: flow %d exchange %d %s: %s: %v",
		models.IoWriteError, e.Flow, e.Exchange, e.Side.Side(), e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func (e *WriteError) Kind() models.ErrorKind { return models.IoWriteError }

// Writer stores artifacts under one directory.
type Writer struct {
	Dir string
}

func NewWriter(dir string) *Writer {
	return &Writer{Dir: dir}
}

// Name returns the file name for an artifact. It is unique per flow,
// exchange and side.
func Name(a *models.Artifact) string {
	ext := a.Ext
	if ext == "" {
		switch a.Kind {
		case models.StructuredText:
			ext = "json"
		case models.PlainText:
			ext = "txt"
		default:
			ext = "bin"
		}
	}
	return fmt.Sprintf("%03d-%04d-%s.%s", a.Flow, a.Exchange, a.Side.Side(), ext)
}

// CompanionName is the file holding the nested-decoded form of a structured
// artifact.
func CompanionName(a *models.Artifact) string {
	return fmt.Sprintf("%03d-%04d-%s.decoded.json", a.Flow, a.Exchange, a.Side.Side())
}

// Write stores a and its companion, if any, overwriting existing files. It
// returns the paths written.
func (w *Writer) Write(a *models.Artifact) ([]string, error) {
	if err := os.MkdirAll(w.Dir, dirMode); err != nil {
		return nil, w.fail(a, w.Dir, errors.Wrap(err, "create output directory"))
	}

	path := filepath.Join(w.Dir, Name(a))
	if err := os.WriteFile(path, a.Data, fileMode); err != nil {
		return nil, w.fail(a, path, err)
	}
	written := []string{path}

	if a.Kind == models.StructuredText && len(a.Companion) > 0 {
		cpath := filepath.Join(w.Dir, CompanionName(a))
		if err := os.WriteFile(cpath, a.Companion, fileMode); err != nil {
			return written, w.fail(a, cpath, err)
		}
		written = append(written, cpath)
	}
	return written, nil
}

func (w *Writer) fail(a *models.Artifact, path string, err error) error {
	return &WriteError{Flow: a.Flow, Exchange: a.Exchange, Side: a.Side, Path: path, Err: err}
}
