package pkg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrCommandNotFound is returned by CommandResolver.Resolve when name is
// neither an existing absolute path nor found on PATH.
type ErrCommandNotFound struct {
	Name string
}

func (e *ErrCommandNotFound) Error() string {
	return fmt.Sprintf("command not found: %s", e.Name)
}

// CommandResolver turns a bare or absolute command name into an absolute
// path, and can tell a modern grub2-install apart from a GRUB-legacy one.
type CommandResolver struct {
	exec Runner
}

// NewCommandResolver returns a CommandResolver that uses exec to probe
// candidate binaries.
func NewCommandResolver(exec Runner) *CommandResolver {
	return &CommandResolver{exec: exec}
}

// Resolve returns the absolute path of name. If name is already absolute it
// is stat-checked directly; otherwise PATH is searched left to right for
// the first directory containing a file named name.
func (r *CommandResolver) Resolve(name string) (string, error) {
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err != nil {
			return "", &ErrCommandNotFound{Name: name}
		}
		return name, nil
	}

	for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", &ErrCommandNotFound{Name: name}
}

// grubLegacyMarker is the version-string substring GRUB 0.9x prints, as
// opposed to GRUB 2's "GRUB2" / version-number-only output.
const grubLegacyMarker = "GRUB GRUB 0."

// IsGrubLegacy runs "abs --version" and reports whether the output carries
// the GRUB-legacy marker.
func (r *CommandResolver) IsGrubLegacy(ctx context.Context, abs string) (bool, error) {
	out, err := r.exec.Capture(ctx, []string{abs, "--version"})
	if err != nil {
		return false, err
	}
	return strings.Contains(string(out), grubLegacyMarker), nil
}
