// Package distro defines the one pluggable extension point the bootstrap
// orchestrator depends on: a per-distribution Driver that knows how to
// unpack a root filesystem, configure networking, and drive GRUB/initramfs
// generation from inside a chroot.
//
// The orchestrator is deliberately ignorant of any concrete distribution; it
// calls Driver at well-defined points in the pipeline and never branches on
// which one is plugged in.
package distro

import "context"

// Driver is the capability set a distribution must implement to be
// bootstrapped. Every method that touches the filesystem receives an
// absolute mountpoint rather than holding one of its own, since the
// orchestrator owns the mountpoint's lifecycle.
type Driver interface {
	// CheckRelease performs any distribution-specific preflight check
	// (e.g. confirming the running kernel/tools match what the driver
	// expects). Returning an error aborts the run before any host
	// mutation happens.
	CheckRelease() error

	// CheckArchitecture fails if arch is not supported by this driver.
	CheckArchitecture(arch string) error

	// SelectBootloader returns the bootloader approach this distribution
	// prefers when the caller configured "auto". The returned string must
	// be one of the tags documented on pkg.BootloaderApproach, never
	// "auto" itself.
	SelectBootloader() (string, error)

	// CommandsToCheckFor returns the host commands or absolute file paths
	// this driver additionally requires, beyond the orchestrator's fixed
	// core list.
	CommandsToCheckFor() []string

	// RunDirectoryBootstrap unpacks a root filesystem into mountpoint.
	// arch and bootloaderApproach are passed through unchanged from
	// BootstrapConfig/RuntimeState so the driver can adjust package
	// selection accordingly.
	RunDirectoryBootstrap(ctx context.Context, mountpoint, arch, bootloaderApproach string) error

	// CreateNetworkConfiguration writes whatever network configuration
	// this distribution expects into mountpoint.
	CreateNetworkConfiguration(ctx context.Context, mountpoint string) error

	// ChrootGrub2InstallCommand returns the basename of the grub2-install
	// equivalent as installed inside the target, used only when the
	// chroot bootloader approach is selected.
	ChrootGrub2InstallCommand() string

	// GenerateGrubCfgFromInsideChroot asks the distribution's own
	// config generator (update-grub, grub2-mkconfig, ...) to produce
	// /boot/grub/grub.cfg inside mountpoint, using env for the chroot
	// environment.
	GenerateGrubCfgFromInsideChroot(ctx context.Context, mountpoint string, env []string) error

	// GenerateInitramfsFromInsideChroot regenerates the initramfs inside
	// mountpoint, using env for the chroot environment.
	GenerateInitramfsFromInsideChroot(ctx context.Context, mountpoint string, env []string) error

	// PerformPostChrootCleanUp runs any distribution-specific cleanup
	// that must happen after the chroot scope has been torn down but
	// before the partition itself is unmounted.
	PerformPostChrootCleanUp(ctx context.Context, mountpoint string) error
}
