package probe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Readiness is implemented by components that can start degraded.
type Readiness interface {
	IsReady() bool
	Err() error
}

// DirWritable returns a critical probe that creates dir if needed and
// verifies a file can be written into it.
func DirWritable(name, dir string) Probe {
	return Probe{
		Name:     name,
		Critical: true,
		Check: func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", dir, err)
			}
			f, err := os.CreateTemp(dir, ".probe-*")
			if err != nil {
				return fmt.Errorf("write %s: %w", dir, err)
			}
			path := f.Name()
			f.Close()
			return os.Remove(filepath.Clean(path))
		},
	}
}

// Ready returns a non-critical probe that fails while r is degraded.
func Ready(name string, r Readiness) Probe {
	return Probe{
		Name: name,
		Check: func(ctx context.Context) error {
			if r.IsReady() {
				return nil
			}
			if err := r.Err(); err != nil {
				return err
			}
			return errors.New("not initialized")
		},
	}
}
