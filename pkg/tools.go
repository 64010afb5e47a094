package pkg

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// coreCommands is the fixed set of external commands the orchestrator
// itself shells out to, independent of which DistroDriver is in play.
var coreCommands = []string{
	"blkid",
	"chmod",
	"chroot",
	"cp",
	"kpartx",
	"mkdir",
	"mkfs.ext4",
	"mount",
	"parted",
	"partprobe",
	"rm",
	"rmdir",
	"sed",
	"tune2fs",
	"umount",
}

// MissingCommand is returned when a PATH-resolved command cannot be found.
type MissingCommand struct {
	Name string
}

func (e *MissingCommand) Error() string {
	return fmt.Sprintf("required command not found in PATH: %s", e.Name)
}

// MissingFile is returned when a required absolute-path file does not
// exist or is not accessible.
type MissingFile struct {
	Path string
}

func (e *MissingFile) Error() string {
	return fmt.Sprintf("required file not found: %s", e.Path)
}

// CheckRequiredTools verifies that the fixed set of core commands plus any
// extra commands requested by the active DistroDriver are resolvable.
// Names given as absolute paths are checked with os.Stat; bare names are
// resolved against PATH with exec.LookPath.
//
// The whole sorted, deduplicated list is scanned before anything is
// reported: every missing command gets its own error line on msg, and a
// missing file always wins over a missing command, regardless of scan
// order. The returned error carries the first missing file if there is
// one, else the first missing command.
func CheckRequiredTools(msg Messenger, extra ...string) error {
	all := append(append([]string{}, coreCommands...), extra...)
	sort.Strings(all)

	var missingFiles, missingCommands []string
	infoProduced := false
	seen := make(map[string]bool)

	for _, name := range all {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		if strings.HasPrefix(name, "/") {
			if _, err := os.Stat(name); err != nil {
				missingFiles = append(missingFiles, name)
			}
			continue
		}

		abs, err := exec.LookPath(name)
		if err != nil {
			missingCommands = append(missingCommands, name)
			msg.Error(&MissingCommand{Name: name}, fmt.Sprintf("checking for %s", name))
			continue
		}
		msg.Info("checking for %s... %s", name, abs)
		infoProduced = true
	}

	if len(missingFiles) > 0 {
		return &MissingFile{Path: missingFiles[0]}
	}
	if len(missingCommands) > 0 {
		return &MissingCommand{Name: missingCommands[0]}
	}
	if infoProduced {
		msg.InfoGap()
	}
	return nil
}
