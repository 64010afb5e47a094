// Package debian implements pkg/distro.Driver for Debian and Debian-derived
// distributions (Ubuntu, Raspbian, ...), wrapping debootstrap for the
// directory bootstrap step and update-grub/update-initramfs for the
// chroot-side bootloader/initramfs steps.
package debian

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	ibuild "github.com/frostyard/ibuild/pkg"
)

// Driver bootstraps a Debian-family root filesystem via debootstrap.
type Driver struct {
	// Suite is the debootstrap suite/codename, e.g. "bookworm" or "jammy".
	Suite string
	// Mirror is the archive mirror URL debootstrap pulls packages from.
	Mirror string
	// Variant is passed through to debootstrap --variant (e.g. "minbase").
	// Empty means debootstrap's own default.
	Variant string
	// ExtraPackages is added to debootstrap's --include list.
	ExtraPackages []string

	exec ibuild.Runner
	msg  ibuild.Messenger
}

// New returns a Driver that runs debootstrap and friends via exec,
// announcing through msg.
func New(suite, mirror string, exec ibuild.Runner, msg ibuild.Messenger) *Driver {
	return &Driver{Suite: suite, Mirror: mirror, exec: exec, msg: msg}
}

// debianArches is the set of architecture tags debootstrap accepts for
// Debian proper; derivative distros generally share this set.
var debianArches = map[string]bool{
	"amd64": true, "arm64": true, "armhf": true, "i386": true,
	"ppc64el": true, "riscv64": true, "s390x": true, "mips64el": true,
}

func (d *Driver) CheckRelease() error {
	if d.Suite == "" {
		return fmt.Errorf("debian driver: suite is required (e.g. \"bookworm\")")
	}
	return nil
}

func (d *Driver) CheckArchitecture(arch string) error {
	if !debianArches[arch] {
		return fmt.Errorf("debian driver: unsupported architecture %q", arch)
	}
	return nil
}

func (d *Driver) SelectBootloader() (string, error) {
	return string(ibuild.BootloaderHostGrub2Device), nil
}

func (d *Driver) CommandsToCheckFor() []string {
	return []string{"debootstrap", "update-grub", "update-initramfs"}
}

func (d *Driver) RunDirectoryBootstrap(ctx context.Context, mountpoint, arch, bootloaderApproach string) error {
	argv := []string{
		"debootstrap",
		"--arch=" + arch,
	}
	if d.Variant != "" {
		argv = append(argv, "--variant="+d.Variant)
	}
	if len(d.ExtraPackages) > 0 {
		include := d.ExtraPackages[0]
		for _, pkg := range d.ExtraPackages[1:] {
			include += "," + pkg
		}
		argv = append(argv, "--include="+include)
	}
	argv = append(argv, d.Suite, mountpoint, d.Mirror)
	return d.exec.Run(ctx, argv)
}

func (d *Driver) CreateNetworkConfiguration(ctx context.Context, mountpoint string) error {
	interfacesDir := filepath.Join(mountpoint, "etc", "network")
	if err := os.MkdirAll(interfacesDir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", interfacesDir, err)
	}

	content := "auto lo\niface lo inet loopback\n\nauto eth0\niface eth0 inet dhcp\n"
	path := filepath.Join(interfacesDir, "interfaces")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	d.msg.Info("wrote %s", path)
	return nil
}

func (d *Driver) ChrootGrub2InstallCommand() string {
	return "grub-install"
}

func (d *Driver) GenerateGrubCfgFromInsideChroot(ctx context.Context, mountpoint string, env []string) error {
	return d.exec.Run(ctx, []string{"chroot", mountpoint, "update-grub"}, ibuild.WithEnv(env))
}

func (d *Driver) GenerateInitramfsFromInsideChroot(ctx context.Context, mountpoint string, env []string) error {
	return d.exec.Run(ctx, []string{"chroot", mountpoint, "update-initramfs", "-u", "-k", "all"}, ibuild.WithEnv(env))
}

func (d *Driver) PerformPostChrootCleanUp(ctx context.Context, mountpoint string) error {
	aptCache := filepath.Join(mountpoint, "var", "cache", "apt", "archives")
	entries, err := os.ReadDir(aptCache)
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == ".deb" {
			_ = os.Remove(filepath.Join(aptCache, entry.Name()))
		}
	}
	return nil
}
