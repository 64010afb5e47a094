package pkg

import (
	"fmt"
	"io"
	"os"
)

// mbrDiskIDOffset is the byte offset of the 4-byte little-endian disk
// signature in a classic MBR, per the partition table layout at the start
// of the device.
const mbrDiskIDOffset = 440

// WriteDiskID writes id as the 4-byte MBR disk signature at offset 440 of
// the device or image at path, overwriting whatever disk ID parted/mkfs
// assigned.
func WriteDiskID(path string, id [4]byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("opening %s to write disk id: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Seek(mbrDiskIDOffset, io.SeekStart); err != nil {
		return fmt.Errorf("seeking to disk id offset in %s: %w", path, err)
	}
	if _, err := f.Write(id[:]); err != nil {
		return fmt.Errorf("writing disk id to %s: %w", path, err)
	}
	return nil
}

// ReadDiskID reads back the 4-byte MBR disk signature at offset 440 of the
// device or image at path.
func ReadDiskID(path string) ([4]byte, error) {
	var id [4]byte

	f, err := os.Open(path)
	if err != nil {
		return id, fmt.Errorf("opening %s to read disk id: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Seek(mbrDiskIDOffset, io.SeekStart); err != nil {
		return id, fmt.Errorf("seeking to disk id offset in %s: %w", path, err)
	}
	if _, err := io.ReadFull(f, id[:]); err != nil {
		return id, fmt.Errorf("reading disk id from %s: %w", path, err)
	}
	return id, nil
}
