package pkg

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// recordingMessenger counts error lines so tests can assert one line per
// missing command.
type recordingMessenger struct {
	NoopMessenger
	errors []string
}

func (m *recordingMessenger) Error(err error, context string) {
	m.errors = append(m.errors, err.Error())
}

// populatePath fills dir with executable stand-ins for every core command
// so CheckRequiredTools only trips over what a test leaves out.
func populatePath(t *testing.T, except ...string) string {
	t.Helper()
	skip := make(map[string]bool)
	for _, name := range except {
		skip[name] = true
	}
	dir := t.TempDir()
	for _, name := range coreCommands {
		if skip[name] {
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0755); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestCheckRequiredTools_AllPresent(t *testing.T) {
	t.Setenv("PATH", populatePath(t))
	if err := CheckRequiredTools(NoopMessenger{}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestCheckRequiredTools_MissingCommand(t *testing.T) {
	t.Setenv("PATH", populatePath(t, "kpartx"))
	err := CheckRequiredTools(NoopMessenger{})
	missing, ok := err.(*MissingCommand)
	if !ok {
		t.Fatalf("expected *MissingCommand, got %v (%T)", err, err)
	}
	if missing.Name != "kpartx" {
		t.Fatalf("got %q", missing.Name)
	}
}

func TestCheckRequiredTools_MissingExtraAbsolutePath(t *testing.T) {
	t.Setenv("PATH", populatePath(t))
	missingPath := filepath.Join(t.TempDir(), "grub2-install")
	err := CheckRequiredTools(NoopMessenger{}, missingPath)
	missing, ok := err.(*MissingFile)
	if !ok {
		t.Fatalf("expected *MissingFile, got %v (%T)", err, err)
	}
	if missing.Path != missingPath {
		t.Fatalf("got %q", missing.Path)
	}
}

func TestCheckRequiredTools_MissingFileWinsOverMissingCommand(t *testing.T) {
	// Both a core command ("blkid") and an absolute path are missing; the
	// file must be the one reported. (In the sorted scan the "/"-prefixed
	// path comes before every bare command name.)
	t.Setenv("PATH", populatePath(t, "blkid"))
	missingPath := filepath.Join(t.TempDir(), "zz-grub2-install")
	err := CheckRequiredTools(NoopMessenger{}, missingPath)
	if _, ok := err.(*MissingFile); !ok {
		t.Fatalf("expected the missing file to take priority, got %v (%T)", err, err)
	}
}

func TestCheckRequiredTools_ReportsEveryMissingCommand(t *testing.T) {
	t.Setenv("PATH", populatePath(t, "kpartx", "tune2fs"))
	msg := &recordingMessenger{}
	err := CheckRequiredTools(msg)
	missing, ok := err.(*MissingCommand)
	if !ok {
		t.Fatalf("expected *MissingCommand, got %v (%T)", err, err)
	}
	// Sorted scan: "kpartx" comes before "tune2fs".
	if missing.Name != "kpartx" {
		t.Fatalf("got %q", missing.Name)
	}
	if len(msg.errors) != 2 {
		t.Fatalf("expected one error line per missing command, got %v", msg.errors)
	}
}

func TestCheckRequiredTools_DeduplicatesNames(t *testing.T) {
	t.Setenv("PATH", populatePath(t, "kpartx"))
	msg := &recordingMessenger{}
	_ = CheckRequiredTools(msg, "kpartx", "kpartx")
	if len(msg.errors) != 1 {
		t.Fatalf("expected the duplicate to be reported once, got %v", msg.errors)
	}
}

func TestCheckRequiredTools_FirstMissingFileInSortOrder(t *testing.T) {
	t.Setenv("PATH", populatePath(t))
	dir := t.TempDir()
	a := filepath.Join(dir, "a-tool")
	b := filepath.Join(dir, "b-tool")
	// Pass them out of order; the sorted scan reports the lexicographic
	// first.
	err := CheckRequiredTools(NoopMessenger{}, b, a)
	missing, ok := err.(*MissingFile)
	if !ok {
		t.Fatalf("expected *MissingFile, got %v (%T)", err, err)
	}
	if missing.Path != a {
		t.Fatalf("got %q, want %q", missing.Path, a)
	}
}

func TestMissingErrorsAreDescriptive(t *testing.T) {
	cmdErr := &MissingCommand{Name: "kpartx"}
	fileErr := &MissingFile{Path: "/usr/sbin/grub2-install"}
	for _, msg := range []string{cmdErr.Error(), fileErr.Error()} {
		if msg == "" {
			t.Fatal("expected a non-empty error message")
		}
	}
	if want := fmt.Sprintf("required command not found in PATH: %s", "kpartx"); cmdErr.Error() != want {
		t.Fatalf("got %q", cmdErr.Error())
	}
}
