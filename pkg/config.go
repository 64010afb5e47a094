package pkg

import "fmt"

// BootloaderApproach names one of the four ways the orchestrator knows to put
// GRUB on a target device, "none" to skip bootloader installation entirely,
// or "auto" to let the DistroDriver choose. NewOrchestrator copies the
// configured value into RuntimeState unchanged; Run's preflight resolves
// "auto" through the DistroDriver, after which RuntimeState holds one of
// the other five.
type BootloaderApproach string

const (
	BootloaderAuto              BootloaderApproach = "auto"
	BootloaderChrootGrub2Device BootloaderApproach = "chroot-grub2-device"
	BootloaderChrootGrub2Drive  BootloaderApproach = "chroot-grub2-drive"
	BootloaderHostGrub2Device   BootloaderApproach = "host-grub2-device"
	BootloaderHostGrub2Drive    BootloaderApproach = "host-grub2-drive"
	BootloaderNone              BootloaderApproach = "none"
)

func (a BootloaderApproach) valid() bool {
	switch a {
	case BootloaderAuto, BootloaderChrootGrub2Device, BootloaderChrootGrub2Drive,
		BootloaderHostGrub2Device, BootloaderHostGrub2Drive, BootloaderNone:
		return true
	}
	return false
}

// usesChroot reports whether this approach runs grub2-install from inside
// the target chroot rather than from the host.
func (a BootloaderApproach) usesChroot() bool {
	return a == BootloaderChrootGrub2Device || a == BootloaderChrootGrub2Drive
}

// usesDeviceMap reports whether this approach needs a synthetic GRUB
// device.map mapping "(hd0)" to the real target device.
func (a BootloaderApproach) usesDeviceMap() bool {
	return a == BootloaderChrootGrub2Drive || a == BootloaderHostGrub2Drive
}

// BootstrapConfig is the immutable set of parameters a single `ibuild
// bootstrap` invocation is configured with. It is assembled once by the CLI
// (or a test) and handed to NewOrchestrator; the orchestrator never mutates
// it.
type BootstrapConfig struct {
	// TargetPath is the block device to partition and bootstrap, e.g.
	// "/dev/sdb" or a loop device.
	TargetPath string

	// Hostname is written to /etc/hostname and used as the UTS namespace
	// hostname and the HOSTNAME/IB_HOSTNAME script environment variables.
	Hostname string

	// Architecture is passed to the DistroDriver for package selection and
	// architecture support checks, e.g. "amd64".
	Architecture string

	// RootPassword, if non-empty, is set as the target's root password.
	// Prefer RootPasswordFile; a password given directly on the command
	// line is visible in process listings and shell history.
	RootPassword string
	// RootPasswordFile, if non-empty, names a file whose first line is
	// used as the root password. Takes precedence over RootPassword.
	RootPasswordFile string

	// EtcResolvConfSource is the host file whose "nameserver" lines are
	// copied into the target's /etc/resolv.conf.
	EtcResolvConfSource string

	// DiskID, if non-empty, is a 4-byte MBR disk signature given as 8 hex
	// digits (e.g. "deadbeef"), written to the partition table's disk ID
	// field instead of whatever parted/mkfs assigned.
	DiskID string

	// FirstPartitionUUID, if non-empty, is imposed on the formatted root
	// partition via tune2fs -U. Left empty, the orchestrator discovers the
	// filesystem UUID mkfs.ext4 assigned via blkid.
	FirstPartitionUUID string

	// ScriptsDirPre, ScriptsDirChroot, and ScriptsDirPost name optional
	// directories of executable scripts run outside the chroot before
	// bootloader installation, inside the chroot, and outside the chroot
	// after teardown of the chroot-only mounts, respectively.
	ScriptsDirPre    string
	ScriptsDirChroot string
	ScriptsDirPost   string

	// Grub2InstallCommand, if non-empty, names the grub2-install
	// equivalent to use for a host-mode bootloader install, bypassing the
	// grub-install/grub2-install/GRUB-legacy autodetection.
	Grub2InstallCommand string

	// BootloaderApproach selects how (or whether) GRUB is installed.
	// BootloaderAuto defers the choice to the DistroDriver.
	BootloaderApproach BootloaderApproach
	// BootloaderForce passes --force to grub2-install.
	BootloaderForce bool

	// DryRun, when true, skips the one mutation not funneled through
	// Runner: setting the root password.
	DryRun bool
}

// Validate checks the parts of BootstrapConfig that don't require touching
// the filesystem or a DistroDriver.
func (c *BootstrapConfig) Validate() error {
	if c.TargetPath == "" {
		return fmt.Errorf("target path is required")
	}
	if c.Hostname == "" {
		return fmt.Errorf("hostname is required")
	}
	if c.Architecture == "" {
		return fmt.Errorf("architecture is required")
	}
	if c.EtcResolvConfSource == "" {
		return fmt.Errorf("etc resolv.conf source is required")
	}
	if !c.BootloaderApproach.valid() {
		return fmt.Errorf("invalid bootloader approach %q", c.BootloaderApproach)
	}
	if len(c.DiskID) != 0 && len(c.DiskID) != 8 {
		return fmt.Errorf("disk id must be exactly 8 hex digits, got %q", c.DiskID)
	}
	return nil
}

// RuntimeState is the mutable state the orchestrator accumulates as it
// works through a run: the mountpoint it created, the partition device
// kpartx activated, the UUID it settled on, and the bootloader approach and
// grub2-install command once resolved from "auto"/autodetection.
type RuntimeState struct {
	Mountpoint           string
	FirstPartitionDevice string
	FirstPartitionUUID   string
	BootloaderApproach   BootloaderApproach
	Grub2InstallCommand  string
}
