// Package mock provides an in-memory distro.Driver for tests: every method
// appends to a call log instead of touching the filesystem or spawning
// anything, so orchestrator tests can assert on exactly what the pipeline
// asked the distribution to do and in what order.
package mock

import (
	"context"
	"fmt"
)

// Call records a single Driver method invocation.
type Call struct {
	Method string
	Args   []string
}

// Driver is a distro.Driver that never touches the host. Configure its
// exported fields before use to control return values; read Calls
// afterward to assert on invocation order.
type Driver struct {
	Calls []Call

	CheckReleaseErr      error
	CheckArchitectureErr error
	BootloaderApproach   string
	BootloaderErr        error
	ExtraCommands        []string
	BootstrapErr         error
	NetworkConfigErr     error
	Grub2InstallCommand  string
	GrubCfgErr           error
	InitramfsErr         error
	PostChrootCleanupErr error
}

// New returns a Driver defaulting to a successful host-grub2-device
// bootstrap with no extra required commands.
func New() *Driver {
	return &Driver{
		BootloaderApproach:  "host-grub2-device",
		Grub2InstallCommand: "grub2-install",
	}
}

func (d *Driver) record(method string, args ...string) {
	d.Calls = append(d.Calls, Call{Method: method, Args: args})
}

func (d *Driver) CheckRelease() error {
	d.record("CheckRelease")
	return d.CheckReleaseErr
}

func (d *Driver) CheckArchitecture(arch string) error {
	d.record("CheckArchitecture", arch)
	return d.CheckArchitectureErr
}

func (d *Driver) SelectBootloader() (string, error) {
	d.record("SelectBootloader")
	if d.BootloaderErr != nil {
		return "", d.BootloaderErr
	}
	return d.BootloaderApproach, nil
}

func (d *Driver) CommandsToCheckFor() []string {
	d.record("CommandsToCheckFor")
	return d.ExtraCommands
}

func (d *Driver) RunDirectoryBootstrap(ctx context.Context, mountpoint, arch, bootloaderApproach string) error {
	d.record("RunDirectoryBootstrap", mountpoint, arch, bootloaderApproach)
	return d.BootstrapErr
}

func (d *Driver) CreateNetworkConfiguration(ctx context.Context, mountpoint string) error {
	d.record("CreateNetworkConfiguration", mountpoint)
	return d.NetworkConfigErr
}

func (d *Driver) ChrootGrub2InstallCommand() string {
	d.record("ChrootGrub2InstallCommand")
	return d.Grub2InstallCommand
}

func (d *Driver) GenerateGrubCfgFromInsideChroot(ctx context.Context, mountpoint string, env []string) error {
	d.record("GenerateGrubCfgFromInsideChroot", mountpoint, fmt.Sprintf("%d env vars", len(env)))
	return d.GrubCfgErr
}

func (d *Driver) GenerateInitramfsFromInsideChroot(ctx context.Context, mountpoint string, env []string) error {
	d.record("GenerateInitramfsFromInsideChroot", mountpoint, fmt.Sprintf("%d env vars", len(env)))
	return d.InitramfsErr
}

func (d *Driver) PerformPostChrootCleanUp(ctx context.Context, mountpoint string) error {
	d.record("PerformPostChrootCleanUp", mountpoint)
	return d.PostChrootCleanupErr
}
