package oci

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	ibuild "github.com/frostyard/ibuild/pkg"
)

func TestCheckRelease(t *testing.T) {
	d := New("", false, nil, ibuild.NoopMessenger{})
	if err := d.CheckRelease(); err == nil {
		t.Fatal("expected error for empty image reference")
	}
	d.ImageRef = "fedora:41"
	if err := d.CheckRelease(); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	d.ImageRef = "bad ref"
	if err := d.CheckRelease(); err == nil {
		t.Fatal("expected error for image reference containing whitespace")
	}
}

func TestCheckArchitecture(t *testing.T) {
	d := New("fedora:41", false, nil, ibuild.NoopMessenger{})
	for _, arch := range []string{"amd64", "arm64", "riscv64"} {
		if err := d.CheckArchitecture(arch); err != nil {
			t.Errorf("CheckArchitecture(%q) = %v, want nil", arch, err)
		}
	}
	for _, arch := range []string{"", "m68k", "x86_64"} {
		if err := d.CheckArchitecture(arch); err == nil {
			t.Errorf("CheckArchitecture(%q) = nil, want error", arch)
		}
	}
}

func TestSelectBootloader_PrefersChroot(t *testing.T) {
	d := New("fedora:41", false, nil, ibuild.NoopMessenger{})
	approach, err := d.SelectBootloader()
	if err != nil {
		t.Fatal(err)
	}
	if approach != string(ibuild.BootloaderChrootGrub2Device) {
		t.Fatalf("got %q", approach)
	}
}

func TestCreateNetworkConfiguration(t *testing.T) {
	mnt := t.TempDir()
	d := New("fedora:41", false, nil, ibuild.NoopMessenger{})
	if err := d.CreateNetworkConfiguration(context.Background(), mnt); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(mnt, "etc", "systemd", "network", "80-dhcp.network"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(got, []byte("DHCP=yes")) {
		t.Fatalf("got %q", got)
	}
}

func TestGrubMkconfigCommand_ProbesUnpackedTree(t *testing.T) {
	mnt := t.TempDir()
	if err := os.MkdirAll(filepath.Join(mnt, "usr", "sbin"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(mnt, "usr", "sbin", "grub-mkconfig"), []byte("x"), 0755); err != nil {
		t.Fatal(err)
	}
	if got := grubMkconfigCommand(mnt); got != "/usr/sbin/grub-mkconfig" {
		t.Fatalf("got %q", got)
	}
	// grub2-mkconfig wins over grub-mkconfig when both exist.
	if err := os.WriteFile(filepath.Join(mnt, "usr", "sbin", "grub2-mkconfig"), []byte("x"), 0755); err != nil {
		t.Fatal(err)
	}
	if got := grubMkconfigCommand(mnt); got != "/usr/sbin/grub2-mkconfig" {
		t.Fatalf("got %q", got)
	}
}

func TestGrubMkconfigCommand_FallsBackToBareName(t *testing.T) {
	if got := grubMkconfigCommand(t.TempDir()); got != "grub2-mkconfig" {
		t.Fatalf("got %q", got)
	}
}

func TestPerformPostChrootCleanUp_TruncatesMachineID(t *testing.T) {
	mnt := t.TempDir()
	machineID := filepath.Join(mnt, "etc", "machine-id")
	if err := os.MkdirAll(filepath.Dir(machineID), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(machineID, []byte("0123456789abcdef0123456789abcdef\n"), 0644); err != nil {
		t.Fatal(err)
	}
	d := New("fedora:41", false, nil, ibuild.NoopMessenger{})
	if err := d.PerformPostChrootCleanUp(context.Background(), mnt); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(machineID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty machine-id, got %q", got)
	}
}

func TestPerformPostChrootCleanUp_NoMachineIDIsFine(t *testing.T) {
	d := New("fedora:41", false, nil, ibuild.NoopMessenger{})
	if err := d.PerformPostChrootCleanUp(context.Background(), t.TempDir()); err != nil {
		t.Fatal(err)
	}
}

// buildTar assembles an in-memory tar stream from entry closures.
func buildTar(t *testing.T, add func(tw *tar.Writer)) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	add(tw)
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf
}

func TestUnpackRootTar(t *testing.T) {
	target := t.TempDir()

	buf := buildTar(t, func(tw *tar.Writer) {
		_ = tw.WriteHeader(&tar.Header{Name: "etc/", Typeflag: tar.TypeDir, Mode: 0755})
		content := []byte("NAME=Testland\n")
		_ = tw.WriteHeader(&tar.Header{Name: "etc/os-release", Typeflag: tar.TypeReg, Mode: 0644, Size: int64(len(content))})
		_, _ = tw.Write(content)
		_ = tw.WriteHeader(&tar.Header{Name: "usr/bin/sudo", Typeflag: tar.TypeReg, Mode: 04755, Size: 0})
		_ = tw.WriteHeader(&tar.Header{Name: "bin", Typeflag: tar.TypeSymlink, Linkname: "usr/bin", Mode: 0777})
		_ = tw.WriteHeader(&tar.Header{Name: "usr/bin/sudoedit", Typeflag: tar.TypeLink, Linkname: "usr/bin/sudo", Mode: 0755})
	})

	if err := unpackRootTar(context.Background(), buf, target); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(filepath.Join(target, "etc", "os-release"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "NAME=Testland\n" {
		t.Fatalf("got %q", got)
	}

	info, err := os.Stat(filepath.Join(target, "usr", "bin", "sudo"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&os.ModeSetuid == 0 {
		t.Fatal("expected setuid bit to survive extraction")
	}

	link, err := os.Readlink(filepath.Join(target, "bin"))
	if err != nil {
		t.Fatal(err)
	}
	if link != "usr/bin" {
		t.Fatalf("got symlink target %q", link)
	}

	if _, err := os.Stat(filepath.Join(target, "usr", "bin", "sudoedit")); err != nil {
		t.Fatalf("hard link missing: %v", err)
	}
}

func TestUnpackRootTar_SkipsPathTraversalAndWhiteouts(t *testing.T) {
	target := t.TempDir()
	parent := filepath.Dir(target)

	content := []byte("evil")
	buf := buildTar(t, func(tw *tar.Writer) {
		_ = tw.WriteHeader(&tar.Header{Name: "../escape", Typeflag: tar.TypeReg, Mode: 0644, Size: int64(len(content))})
		_, _ = tw.Write(content)
		_ = tw.WriteHeader(&tar.Header{Name: "etc/.wh.shadow", Typeflag: tar.TypeReg, Mode: 0644, Size: 0})
	})

	if err := unpackRootTar(context.Background(), buf, target); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(parent, "escape")); !os.IsNotExist(err) {
		t.Fatal("path traversal entry must not be written outside the target")
	}
	if _, err := os.Stat(filepath.Join(target, "etc", ".wh.shadow")); !os.IsNotExist(err) {
		t.Fatal("whiteout marker must not be materialized")
	}
}

func TestUnpackRootTar_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	buf := buildTar(t, func(tw *tar.Writer) {
		_ = tw.WriteHeader(&tar.Header{Name: "etc/", Typeflag: tar.TypeDir, Mode: 0755})
	})
	if err := unpackRootTar(ctx, buf, t.TempDir()); err == nil {
		t.Fatal("expected context error")
	}
}
