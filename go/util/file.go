package util

import (
	"io"
	"os"

	"go.kpiflow.build/go/sklog"
)

// Close calls c.Close() and logs any error rather than silently
// dropping it, for use in defer statements where the enclosing
// function already returns its own error.
func Close(c io.Closer) {
	if err := c.Close(); err != nil {
		sklog.Errorf("Failed to close: %s", err)
	}
}

// WithWriteFile writes to path atomically: f writes into a temp file in
// the same directory, which is renamed over path only on success.
func WithWriteFile(path string, f func(w io.Writer) error) error {
	tmp, err := os.CreateTemp(dirOf(path), "."+baseOf(path)+".tmp")
	if err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if err := f(tmp); err != nil {
		Close(tmp)
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

func baseOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
