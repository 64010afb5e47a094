//go:build linux

package pkg

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// NamespaceSetupFailed wraps the errno from unshare(2).
type NamespaceSetupFailed struct {
	Errno syscall.Errno
}

func (e *NamespaceSetupFailed) Error() string {
	return fmt.Sprintf("unshare(CLONE_NEWNS|CLONE_NEWUTS): %s", e.Errno)
}

// HostnameSetFailed wraps the errno from sethostname(2).
type HostnameSetFailed struct {
	Errno syscall.Errno
}

func (e *HostnameSetFailed) Error() string {
	return fmt.Sprintf("sethostname: %s", e.Errno)
}

// Isolate puts the calling OS thread into a new mount and UTS namespace and
// sets hostname in it. Callers must have locked the calling goroutine to its
// OS thread (runtime.LockOSThread) before calling this, since unshare(2)
// only affects the calling thread and Go may otherwise migrate the
// goroutine off it afterwards.
//
// The mount namespace means every mount this process makes from here on
// (and its mount table view generally) is private to the process tree
// rooted here; the UTS namespace lets hostname change without touching the
// host's.
func Isolate(hostname string) error {
	if err := unix.Unshare(unix.CLONE_NEWNS | unix.CLONE_NEWUTS); err != nil {
		return &NamespaceSetupFailed{Errno: err.(unix.Errno)}
	}
	if err := unix.Sethostname([]byte(hostname)); err != nil {
		return &HostnameSetFailed{Errno: err.(unix.Errno)}
	}
	return nil
}
