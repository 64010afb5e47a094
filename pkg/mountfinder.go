package pkg

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// MountEntry is one row of the host's mount table, holding just enough of
// /proc/self/mountinfo (or /proc/mounts as fallback) to order unmounts.
type MountEntry struct {
	MountPoint string
	// MountID and ParentID come from mountinfo and are zero when the
	// fallback /proc/mounts parser was used.
	MountID  int
	ParentID int
}

// MountTable is the host's current mount table, in the order the kernel
// reported it.
type MountTable []MountEntry

// LoadMountTable reads /proc/self/mountinfo, falling back to /proc/mounts
// (which lacks mount/parent IDs but still gives mountpoints and ordering)
// when mountinfo is unavailable, e.g. inside a minimal test harness.
func LoadMountTable() (MountTable, error) {
	if f, err := os.Open("/proc/self/mountinfo"); err == nil {
		defer f.Close()
		return parseMountinfo(f)
	}

	f, err := os.Open("/proc/mounts")
	if err != nil {
		return nil, fmt.Errorf("reading mount table: %w", err)
	}
	defer f.Close()
	return parseMounts(f)
}

func parseMountinfo(f *os.File) (MountTable, error) {
	var table MountTable
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		// mountinfo format: id parent major:minor root mountpoint ...
		if len(fields) < 5 {
			continue
		}
		mountID, err1 := strconv.Atoi(fields[0])
		parentID, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil {
			continue
		}
		table = append(table, MountEntry{
			MountPoint: unescapeOctal(fields[4]),
			MountID:    mountID,
			ParentID:   parentID,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning mountinfo: %w", err)
	}
	return table, nil
}

func parseMounts(f *os.File) (MountTable, error) {
	var table MountTable
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		// /proc/mounts format: device mountpoint fstype options dump pass
		if len(fields) < 2 {
			continue
		}
		table = append(table, MountEntry{MountPoint: unescapeOctal(fields[1])})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning mounts: %w", err)
	}
	return table, nil
}

// unescapeOctal decodes the \NNN octal escapes the kernel uses for spaces,
// tabs, newlines, and backslashes in mount table paths.
func unescapeOctal(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// DescendantsOf returns the mountpoints strictly below root, in host-table
// (mount) order. root itself is excluded. Callers wanting unmount order
// should iterate the result in reverse.
func (t MountTable) DescendantsOf(root string) []string {
	prefix := strings.TrimSuffix(root, "/") + "/"

	var out []string
	for _, entry := range t {
		if entry.MountPoint == root {
			continue
		}
		if strings.HasPrefix(entry.MountPoint, prefix) {
			out = append(out, entry.MountPoint)
		}
	}
	return out
}
