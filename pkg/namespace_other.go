//go:build !linux

package pkg

import "errors"

// ErrNotSupported is returned by Isolate on platforms without Linux
// namespaces.
var ErrNotSupported = errors.New("namespace isolation is only supported on linux")

func Isolate(hostname string) error {
	return ErrNotSupported
}
