package debian

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	ibuild "github.com/frostyard/ibuild/pkg"
)

type fakeRunner struct {
	calls [][]string
}

func (f *fakeRunner) Run(ctx context.Context, argv []string, opts ...ibuild.RunOption) error {
	f.calls = append(f.calls, argv)
	return nil
}

func (f *fakeRunner) Capture(ctx context.Context, argv []string, opts ...ibuild.RunOption) ([]byte, error) {
	f.calls = append(f.calls, argv)
	return nil, nil
}

type noopMessenger struct{}

func (noopMessenger) Info(string, ...any)      {}
func (noopMessenger) Warn(string, ...any)      {}
func (noopMessenger) Error(error, string)      {}
func (noopMessenger) InfoGap()                 {}
func (noopMessenger) AnnounceCommand([]string) {}

func TestDriver_CheckRelease_RequiresSuite(t *testing.T) {
	d := New("", "http://mirror", &fakeRunner{}, noopMessenger{})
	if err := d.CheckRelease(); err == nil {
		t.Fatal("expected error when suite is empty")
	}
	d2 := New("bookworm", "http://mirror", &fakeRunner{}, noopMessenger{})
	if err := d2.CheckRelease(); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestDriver_CheckArchitecture(t *testing.T) {
	d := New("bookworm", "http://mirror", &fakeRunner{}, noopMessenger{})
	if err := d.CheckArchitecture("amd64"); err != nil {
		t.Fatalf("expected amd64 to be supported, got %v", err)
	}
	if err := d.CheckArchitecture("made-up-arch"); err == nil {
		t.Fatal("expected unsupported architecture to error")
	}
}

func TestDriver_SelectBootloader(t *testing.T) {
	d := New("bookworm", "http://mirror", &fakeRunner{}, noopMessenger{})
	got, err := d.SelectBootloader()
	if err != nil {
		t.Fatal(err)
	}
	if got != string(ibuild.BootloaderHostGrub2Device) {
		t.Fatalf("got %q", got)
	}
}

func TestDriver_RunDirectoryBootstrap_BuildsDebootstrapArgv(t *testing.T) {
	exec := &fakeRunner{}
	d := New("bookworm", "http://deb.debian.org/debian", exec, noopMessenger{})
	d.Variant = "minbase"
	d.ExtraPackages = []string{"openssh-server", "vim"}

	if err := d.RunDirectoryBootstrap(context.Background(), "/mnt/ibuild-x", "amd64", "host-grub2-device"); err != nil {
		t.Fatal(err)
	}

	got := strings.Join(exec.calls[0], " ")
	want := "debootstrap --arch=amd64 --variant=minbase --include=openssh-server,vim bookworm /mnt/ibuild-x http://deb.debian.org/debian"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDriver_RunDirectoryBootstrap_MinimalArgv(t *testing.T) {
	exec := &fakeRunner{}
	d := New("jammy", "http://archive.ubuntu.com/ubuntu", exec, noopMessenger{})

	if err := d.RunDirectoryBootstrap(context.Background(), "/mnt/ibuild-y", "arm64", "none"); err != nil {
		t.Fatal(err)
	}

	got := strings.Join(exec.calls[0], " ")
	want := "debootstrap --arch=arm64 jammy /mnt/ibuild-y http://archive.ubuntu.com/ubuntu"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDriver_CreateNetworkConfiguration(t *testing.T) {
	mnt := t.TempDir()
	d := New("bookworm", "http://mirror", &fakeRunner{}, noopMessenger{})

	if err := d.CreateNetworkConfiguration(context.Background(), mnt); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(mnt, "etc", "network", "interfaces"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(got), "iface eth0 inet dhcp") {
		t.Fatalf("got %q", got)
	}
}

func TestDriver_ChrootGrub2InstallCommand(t *testing.T) {
	d := New("bookworm", "http://mirror", &fakeRunner{}, noopMessenger{})
	if d.ChrootGrub2InstallCommand() != "grub-install" {
		t.Fatalf("got %q", d.ChrootGrub2InstallCommand())
	}
}

func TestDriver_GenerateGrubCfgFromInsideChroot(t *testing.T) {
	exec := &fakeRunner{}
	d := New("bookworm", "http://mirror", exec, noopMessenger{})
	env := []string{"HOSTNAME=x"}

	if err := d.GenerateGrubCfgFromInsideChroot(context.Background(), "/mnt/x", env); err != nil {
		t.Fatal(err)
	}
	got := strings.Join(exec.calls[0], " ")
	if got != "chroot /mnt/x update-grub" {
		t.Fatalf("got %q", got)
	}
}

func TestDriver_GenerateInitramfsFromInsideChroot(t *testing.T) {
	exec := &fakeRunner{}
	d := New("bookworm", "http://mirror", exec, noopMessenger{})

	if err := d.GenerateInitramfsFromInsideChroot(context.Background(), "/mnt/x", nil); err != nil {
		t.Fatal(err)
	}
	got := strings.Join(exec.calls[0], " ")
	if got != "chroot /mnt/x update-initramfs -u -k all" {
		t.Fatalf("got %q", got)
	}
}

func TestDriver_PerformPostChrootCleanUp_RemovesDebFiles(t *testing.T) {
	mnt := t.TempDir()
	cacheDir := filepath.Join(mnt, "var", "cache", "apt", "archives")
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		t.Fatal(err)
	}
	keep := filepath.Join(cacheDir, "lock")
	remove := filepath.Join(cacheDir, "openssh-server_1.0_amd64.deb")
	if err := os.WriteFile(keep, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(remove, nil, 0644); err != nil {
		t.Fatal(err)
	}

	d := New("bookworm", "http://mirror", &fakeRunner{}, noopMessenger{})
	if err := d.PerformPostChrootCleanUp(context.Background(), mnt); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(remove); !os.IsNotExist(err) {
		t.Fatal("expected .deb file to be removed")
	}
	if _, err := os.Stat(keep); err != nil {
		t.Fatal("expected non-.deb file to survive")
	}
}

func TestDriver_PerformPostChrootCleanUp_MissingCacheDirIsNotAnError(t *testing.T) {
	d := New("bookworm", "http://mirror", &fakeRunner{}, noopMessenger{})
	if err := d.PerformPostChrootCleanUp(context.Background(), t.TempDir()); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
