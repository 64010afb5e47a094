// Package oci implements pkg/distro.Driver for image-based installs: the
// root filesystem comes from a container image exported through the local
// Docker (or Docker-compatible) daemon instead of a package bootstrapper
// like debootstrap. The image is expected to carry its own kernel, GRUB
// tooling, and dracut, so the bootloader work happens inside the chroot.
package oci

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	ibuild "github.com/frostyard/ibuild/pkg"
)

// Driver unpacks a container image's root filesystem into the mountpoint.
type Driver struct {
	// ImageRef is the image to export, e.g. "fedora:41" or
	// "registry.example.com/os/base:stable".
	ImageRef string
	// Pull makes the driver pull ImageRef from its registry before
	// exporting; left false, the image must already be present in the
	// daemon.
	Pull bool

	exec ibuild.Runner
	msg  ibuild.Messenger
}

// New returns a Driver exporting imageRef through the local daemon.
func New(imageRef string, pull bool, exec ibuild.Runner, msg ibuild.Messenger) *Driver {
	return &Driver{ImageRef: imageRef, Pull: pull, exec: exec, msg: msg}
}

// ociArches is the set of GOARCH-style platform tags the daemon understands
// for linux images.
var ociArches = map[string]bool{
	"amd64": true, "arm64": true, "arm": true, "386": true,
	"ppc64le": true, "riscv64": true, "s390x": true,
}

func (d *Driver) CheckRelease() error {
	if d.ImageRef == "" {
		return fmt.Errorf("oci driver: image reference is required (e.g. \"fedora:41\")")
	}
	if strings.ContainsAny(d.ImageRef, " \t") {
		return fmt.Errorf("oci driver: malformed image reference %q", d.ImageRef)
	}
	return nil
}

func (d *Driver) CheckArchitecture(arch string) error {
	if !ociArches[arch] {
		return fmt.Errorf("oci driver: unsupported architecture %q", arch)
	}
	return nil
}

// SelectBootloader prefers the chroot approach: the image carries its own
// grub2-install while the host running ibuild may have none at all.
func (d *Driver) SelectBootloader() (string, error) {
	return string(ibuild.BootloaderChrootGrub2Device), nil
}

// CommandsToCheckFor is empty: the unpack goes through the daemon API
// rather than host binaries, and the chroot-side tools live in the image.
func (d *Driver) CommandsToCheckFor() []string {
	return nil
}

func (d *Driver) RunDirectoryBootstrap(ctx context.Context, mountpoint, arch, bootloaderApproach string) error {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("connecting to container daemon: %w", err)
	}
	defer func() { _ = cli.Close() }()

	if d.Pull {
		d.msg.Info("pulling image %q", d.ImageRef)
		rc, err := cli.ImagePull(ctx, d.ImageRef, image.PullOptions{Platform: "linux/" + arch})
		if err != nil {
			return fmt.Errorf("pulling image %s: %w", d.ImageRef, err)
		}
		// The pull stream is JSON progress; it must be drained for the
		// pull to complete.
		_, _ = io.Copy(io.Discard, rc)
		_ = rc.Close()
	}

	d.msg.Info("exporting root filesystem of image %q", d.ImageRef)
	platform := &ocispec.Platform{OS: "linux", Architecture: arch}
	created, err := cli.ContainerCreate(ctx, &container.Config{
		Image:      d.ImageRef,
		Entrypoint: []string{"/bin/true"},
	}, nil, nil, platform, "")
	if err != nil {
		return fmt.Errorf("creating container from %s: %w", d.ImageRef, err)
	}
	defer func() {
		// Removal must survive a canceled ctx or the container leaks.
		_ = cli.ContainerRemove(context.WithoutCancel(ctx), created.ID, container.RemoveOptions{Force: true})
	}()

	export, err := cli.ContainerExport(ctx, created.ID)
	if err != nil {
		return fmt.Errorf("exporting container %s: %w", created.ID, err)
	}
	defer func() { _ = export.Close() }()

	if err := unpackRootTar(ctx, export, mountpoint); err != nil {
		return err
	}

	// Images routinely ship /etc/resolv.conf as a symlink into /run; the
	// pipeline rewrites that file next, so a dangling link must go.
	resolvConf := filepath.Join(mountpoint, "etc", "resolv.conf")
	if info, err := os.Lstat(resolvConf); err == nil && info.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(resolvConf); err != nil {
			return fmt.Errorf("removing resolv.conf symlink: %w", err)
		}
	}
	return nil
}

// CreateNetworkConfiguration writes a catch-all DHCP configuration for
// systemd-networkd, the stack image-based distributions ship.
func (d *Driver) CreateNetworkConfiguration(ctx context.Context, mountpoint string) error {
	networkDir := filepath.Join(mountpoint, "etc", "systemd", "network")
	if err := os.MkdirAll(networkDir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", networkDir, err)
	}

	content := "[Match]\nName=en* eth*\n\n[Network]\nDHCP=yes\n"
	path := filepath.Join(networkDir, "80-dhcp.network")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	d.msg.Info("wrote %s", path)
	return nil
}

func (d *Driver) ChrootGrub2InstallCommand() string {
	return "grub2-install"
}

// grubMkconfigCommand probes the unpacked tree for the config generator's
// in-chroot path; Fedora-family images install grub2-mkconfig, Debian-family
// ones grub-mkconfig.
func grubMkconfigCommand(mountpoint string) string {
	candidates := []string{
		"/usr/sbin/grub2-mkconfig",
		"/sbin/grub2-mkconfig",
		"/usr/sbin/grub-mkconfig",
		"/sbin/grub-mkconfig",
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(filepath.Join(mountpoint, candidate)); err == nil {
			return candidate
		}
	}
	return "grub2-mkconfig"
}

func (d *Driver) GenerateGrubCfgFromInsideChroot(ctx context.Context, mountpoint string, env []string) error {
	if err := os.MkdirAll(filepath.Join(mountpoint, "boot", "grub"), 0755); err != nil {
		return fmt.Errorf("creating boot/grub: %w", err)
	}
	mkconfig := grubMkconfigCommand(mountpoint)
	return d.exec.Run(ctx, []string{"chroot", mountpoint, mkconfig, "-o", "/boot/grub/grub.cfg"}, ibuild.WithEnv(env))
}

func (d *Driver) GenerateInitramfsFromInsideChroot(ctx context.Context, mountpoint string, env []string) error {
	return d.exec.Run(ctx, []string{"chroot", mountpoint, "dracut", "--force", "--regenerate-all"}, ibuild.WithEnv(env))
}

// PerformPostChrootCleanUp resets the identity the exported container
// carried: machine-id is truncated so the first boot generates a fresh one.
func (d *Driver) PerformPostChrootCleanUp(ctx context.Context, mountpoint string) error {
	machineID := filepath.Join(mountpoint, "etc", "machine-id")
	if _, err := os.Lstat(machineID); err != nil {
		return nil
	}
	if err := os.WriteFile(machineID, nil, 0444); err != nil {
		return fmt.Errorf("truncating machine-id: %w", err)
	}
	return nil
}

// tarFileMode converts a tar header's Unix mode bits, including
// SUID/SGID/sticky, to an os.FileMode.
func tarFileMode(h *tar.Header) os.FileMode {
	mode := os.FileMode(h.Mode & 0777)
	if h.Mode&04000 != 0 {
		mode |= os.ModeSetuid
	}
	if h.Mode&02000 != 0 {
		mode |= os.ModeSetgid
	}
	if h.Mode&01000 != 0 {
		mode |= os.ModeSticky
	}
	return mode
}

// unpackRootTar extracts a flattened root-filesystem tar stream (as
// produced by ContainerExport) into targetDir. Entries escaping targetDir
// are skipped, as are device nodes (the pipeline bind-mounts /dev later)
// and any overlay whiteout markers that slipped through.
func unpackRootTar(ctx context.Context, r io.Reader, targetDir string) error {
	tr := tar.NewReader(r)
	cleanRoot := filepath.Clean(targetDir)

	count := 0
	for {
		if count%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		count++

		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading rootfs tar: %w", err)
		}

		if strings.HasPrefix(filepath.Base(header.Name), ".wh.") {
			continue
		}

		target := filepath.Join(targetDir, header.Name)
		if target != cleanRoot && !strings.HasPrefix(target, cleanRoot+string(filepath.Separator)) {
			continue
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("creating directory %s: %w", target, err)
			}
			_ = os.Chown(target, header.Uid, header.Gid)
			// Chmod after Chown: ownership changes clear SUID/SGID.
			if err := os.Chmod(target, tarFileMode(header)); err != nil {
				return fmt.Errorf("setting mode on %s: %w", target, err)
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("creating parent of %s: %w", target, err)
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
			if err != nil {
				return fmt.Errorf("creating file %s: %w", target, err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				_ = f.Close()
				return fmt.Errorf("writing file %s: %w", target, err)
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("closing file %s: %w", target, err)
			}
			_ = os.Chown(target, header.Uid, header.Gid)
			if err := os.Chmod(target, tarFileMode(header)); err != nil {
				return fmt.Errorf("setting mode on %s: %w", target, err)
			}

		case tar.TypeSymlink:
			if err := os.RemoveAll(target); err != nil {
				return fmt.Errorf("replacing %s: %w", target, err)
			}
			if err := os.Symlink(header.Linkname, target); err != nil {
				return fmt.Errorf("creating symlink %s: %w", target, err)
			}
			_ = os.Lchown(target, header.Uid, header.Gid)

		case tar.TypeLink:
			linkTarget := filepath.Join(targetDir, header.Linkname)
			if !strings.HasPrefix(linkTarget, cleanRoot+string(filepath.Separator)) {
				continue
			}
			_ = os.Remove(target)
			if err := os.Link(linkTarget, target); err != nil {
				return fmt.Errorf("creating hard link %s: %w", target, err)
			}
		}
	}
}
