package pkg

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/frostyard/ibuild/pkg/distro"
	"github.com/frostyard/ibuild/pkg/uuidvalidate"
)

// partitionDelimiter is passed to every kpartx invocation as the -p value.
// Keeping it at "p" (rather than empty) preserves LVM-compatible
// device-mapper naming for the partition node kpartx creates.
const partitionDelimiter = "p"

// mountpointParentDir is where a uniquely named scratch mountpoint is
// created for the duration of a run.
const mountpointParentDir = "/mnt"

type nonDiskMountTask struct {
	source  string
	options []string
	target  string
}

// nonDiskMountTasks are mounted, in order, once the distro unpack and early
// config steps have finished, and unmounted in the reverse order during
// teardown.
var nonDiskMountTasks = []nonDiskMountTask{
	{"/dev", []string{"-o", "bind"}, "dev"},
	{"/dev/pts", []string{"-o", "bind"}, "dev/pts"},
	{"PROC", []string{"-t", "proc"}, "proc"},
	{"/sys", []string{"-o", "bind"}, "sys"},
}

// NotABlockDevice is returned when the configured target path is not a
// block device.
type NotABlockDevice struct {
	Path string
}

func (e *NotABlockDevice) Error() string {
	return fmt.Sprintf("not a block device: %s", e.Path)
}

// PartitionDeviceMissing is returned when the activated partition's device
// node never appeared.
type PartitionDeviceMissing struct {
	Path string
}

func (e *PartitionDeviceMissing) Error() string {
	return fmt.Sprintf("no such block device file: %s", e.Path)
}

// GrubLegacyDetected is returned when the only grub-install found on PATH
// turns out to be GRUB legacy (0.9x) rather than GRUB 2.
type GrubLegacyDetected struct {
	Command string
}

func (e *GrubLegacyDetected) Error() string {
	return fmt.Sprintf("command %q is GRUB legacy while GRUB 2 is needed; "+
		"install GRUB 2 or pass an explicit grub2-install command", e.Command)
}

// Orchestrator drives a single `ibuild bootstrap` run end to end: preflight
// checks, namespace isolation, partitioning, formatting, distro unpack,
// bootloader installation, and a full reverse teardown.
type Orchestrator struct {
	cfg      *BootstrapConfig
	distro   distro.Driver
	msg      Messenger
	rep      Reporter
	exec     Runner
	resolver *CommandResolver

	state        RuntimeState
	rootPassword string
}

// NewOrchestrator validates cfg and returns an Orchestrator ready to Run.
// A nil rep disables stage reporting.
func NewOrchestrator(cfg *BootstrapConfig, driver distro.Driver, msg Messenger, rep Reporter, exec Runner) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rep == nil {
		rep = NoopReporter{}
	}
	return &Orchestrator{
		cfg:      cfg,
		distro:   driver,
		msg:      msg,
		rep:      rep,
		exec:     exec,
		resolver: NewCommandResolver(exec),
		state: RuntimeState{
			BootloaderApproach:  cfg.BootloaderApproach,
			Grub2InstallCommand: cfg.Grub2InstallCommand,
		},
	}, nil
}

// State returns the runtime state accumulated so far. Meaningful to inspect
// after Run returns, whether or not it returned an error.
func (o *Orchestrator) State() RuntimeState {
	return o.state
}

// runScoped runs body, then release unconditionally, mirroring one nested
// try/finally scope of the underlying bootstrap pipeline: release always
// happens, but a forward failure is always the one returned to the caller.
func runScoped(body, release func() error) error {
	bodyErr := body()
	releaseErr := release()
	if bodyErr != nil {
		return bodyErr
	}
	return releaseErr
}

// retryWithLeadingSleep sleeps once before handing fn to withRetry, used by
// the two settling-sensitive steps (boot flag, partprobe) that the
// underlying engine guards with an unconditional lead-in sleep in addition
// to the standard 3-attempt/1s-backoff policy.
func retryWithLeadingSleep(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Second):
	}
	return withRetry(ctx, 3, time.Second, fn)
}

func (o *Orchestrator) tryUnmount(ctx context.Context, path string) error {
	return withRetry(ctx, 3, time.Second, func() error {
		return o.exec.Run(ctx, []string{"umount", path})
	})
}

func (o *Orchestrator) makeEnvironment(exposeMountpoint bool) []string {
	return scriptEnv(o.cfg.Hostname, o.state.Mountpoint, exposeMountpoint)
}

// ---------------------------------------------------------------------------
// Preflight
// ---------------------------------------------------------------------------

func (o *Orchestrator) selectBootloader() error {
	if o.state.BootloaderApproach != BootloaderAuto {
		return nil
	}
	approach, err := o.distro.SelectBootloader()
	if err != nil {
		return err
	}
	o.state.BootloaderApproach = BootloaderApproach(approach)
	o.msg.Info("selected approach %q for bootloader installation", o.state.BootloaderApproach)
	return nil
}

func (o *Orchestrator) detectGrub2Install(ctx context.Context) error {
	if o.state.Grub2InstallCommand != "" {
		return nil
	}
	if o.state.BootloaderApproach != BootloaderHostGrub2Device && o.state.BootloaderApproach != BootloaderHostGrub2Drive {
		return nil
	}

	o.state.Grub2InstallCommand = "grub2-install"
	if _, err := o.resolver.Resolve(o.state.Grub2InstallCommand); err == nil {
		return nil
	}

	o.state.Grub2InstallCommand = "grub-install"
	abs, err := o.resolver.Resolve(o.state.Grub2InstallCommand)
	if err != nil {
		// Leave "grub-install" as the recorded name; the commands
		// check below reports it missing with a clean error.
		return nil
	}

	legacy, err := o.resolver.IsGrubLegacy(ctx, abs)
	if err != nil {
		return err
	}
	if legacy {
		return &GrubLegacyDetected{Command: abs}
	}
	return nil
}

func (o *Orchestrator) checkForCommands() error {
	extra := append([]string{}, o.distro.CommandsToCheckFor()...)
	if o.state.Grub2InstallCommand != "" {
		extra = append(extra, o.state.Grub2InstallCommand)
	}
	return CheckRequiredTools(o.msg, extra...)
}

func (o *Orchestrator) checkTargetBlockDevice() error {
	o.msg.Info("checking if %q is a block device", o.cfg.TargetPath)
	info, err := os.Stat(o.cfg.TargetPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", o.cfg.TargetPath, err)
	}
	if info.Mode()&os.ModeDevice == 0 || info.Mode()&os.ModeCharDevice != 0 {
		return &NotABlockDevice{Path: o.cfg.TargetPath}
	}
	return nil
}

func (o *Orchestrator) checkArchitecture() error {
	o.msg.Info("checking for known unsupported architecture/machine combinations")
	return o.distro.CheckArchitecture(o.cfg.Architecture)
}

func (o *Orchestrator) checkScriptPermissions() error {
	for _, dir := range []string{o.cfg.ScriptsDirPre, o.cfg.ScriptsDirChroot, o.cfg.ScriptsDirPost} {
		if dir == "" {
			continue
		}
		o.msg.Info("checking scripts directory permissions for %q", dir)
		if err := CheckScriptsDirTrust(dir); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) resolvePassword() (string, error) {
	if o.cfg.RootPasswordFile != "" {
		o.msg.Info("reading root password from file %q", o.cfg.RootPasswordFile)
		data, err := os.ReadFile(o.cfg.RootPasswordFile)
		if err != nil {
			return "", fmt.Errorf("reading root password file: %w", err)
		}
		line, _, _ := strings.Cut(string(data), "\n")
		return line, nil
	}
	if o.cfg.RootPassword != "" {
		o.msg.Warn("using --password directly is a security risk more often than not; " +
			"consider --password-file instead")
	}
	return o.cfg.RootPassword, nil
}

func (o *Orchestrator) preflight(ctx context.Context) error {
	if err := o.distro.CheckRelease(); err != nil {
		return err
	}
	if err := o.selectBootloader(); err != nil {
		return err
	}
	if err := o.detectGrub2Install(ctx); err != nil {
		return err
	}
	if err := o.checkForCommands(); err != nil {
		return err
	}
	if err := o.checkTargetBlockDevice(); err != nil {
		return err
	}
	if err := o.checkArchitecture(); err != nil {
		return err
	}
	if err := o.checkScriptPermissions(); err != nil {
		return err
	}
	password, err := o.resolvePassword()
	if err != nil {
		return err
	}
	o.rootPassword = password
	return nil
}

// ---------------------------------------------------------------------------
// Partition and activate
// ---------------------------------------------------------------------------

func (o *Orchestrator) partitionDevice(ctx context.Context) error {
	o.msg.Info("partitioning %q", o.cfg.TargetPath)
	if err := o.exec.Run(ctx, []string{"parted", "--script", o.cfg.TargetPath, "mklabel", "msdos"}); err != nil {
		return err
	}
	if err := o.exec.Run(ctx, []string{
		"parted", "--align", "optimal", "--script", o.cfg.TargetPath,
		"mkpart", "primary", "ext4", "1", "100%",
	}); err != nil {
		return err
	}

	// Block-device settling races are common here, especially with LVM
	// or loop devices freshly repartitioned; a non-127 failure on the
	// first two attempts is retried rather than surfaced.
	bootFlag := []string{"parted", "--script", o.cfg.TargetPath, "set", "1", "boot", "on"}
	return retryWithLeadingSleep(ctx, func() error {
		return o.exec.Run(ctx, bootFlag)
	})
}

func (o *Orchestrator) setDiskIDInMBR() error {
	if o.cfg.DiskID == "" {
		return nil
	}
	raw, err := hex.DecodeString(o.cfg.DiskID)
	if err != nil || len(raw) != 4 {
		return fmt.Errorf("invalid disk id %q: must be 8 hex digits", o.cfg.DiskID)
	}
	var id [4]byte
	copy(id[:], raw)

	o.msg.Info("setting MBR disk identifier to %s (4 bytes)", o.cfg.DiskID)
	return WriteDiskID(o.cfg.TargetPath, id)
}

func waitForDeviceFile(ctx context.Context, path string) error {
	for i := 0; i < 3; i++ {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return &PartitionDeviceMissing{Path: path}
}

func (o *Orchestrator) kpartxActivate(ctx context.Context) error {
	o.msg.Info("activating partition devices")
	out, err := o.exec.Capture(ctx, []string{"kpartx", "-l", "-p", partitionDelimiter, o.cfg.TargetPath})
	if err != nil {
		return err
	}

	firstLine, _, _ := strings.Cut(string(out), "\n")
	deviceName, _, _ := strings.Cut(firstLine, " : ")
	o.state.FirstPartitionDevice = "/dev/mapper/" + deviceName

	if strings.HasPrefix(deviceName, "loop") {
		if _, err := os.Stat(o.state.FirstPartitionDevice); err == nil {
			return fmt.Errorf("partition device %s already exists", o.state.FirstPartitionDevice)
		}
		if err := o.exec.Run(ctx, []string{"kpartx", "-a", "-p", partitionDelimiter, "-s", o.cfg.TargetPath}); err != nil {
			return err
		}
	} else if err := retryWithLeadingSleep(ctx, func() error {
		return o.exec.Run(ctx, []string{"partprobe", o.cfg.TargetPath})
	}); err != nil {
		return err
	}

	return waitForDeviceFile(ctx, o.state.FirstPartitionDevice)
}

func (o *Orchestrator) kpartxDeactivate(ctx context.Context) error {
	o.msg.Info("deactivating partition devices")
	return withRetry(ctx, 3, time.Second, func() error {
		return o.exec.Run(ctx, []string{"kpartx", "-d", "-p", partitionDelimiter, o.cfg.TargetPath})
	})
}

// ---------------------------------------------------------------------------
// Format and mount
// ---------------------------------------------------------------------------

func (o *Orchestrator) formatPartition(ctx context.Context) error {
	o.msg.Info("creating file system on %q", o.state.FirstPartitionDevice)
	return o.exec.Run(ctx, []string{"mkfs.ext4", "-F", o.state.FirstPartitionDevice})
}

func (o *Orchestrator) resolveFirstPartitionUUID(ctx context.Context) error {
	if o.cfg.FirstPartitionUUID != "" {
		o.msg.Info("setting first partition UUID to %s", o.cfg.FirstPartitionUUID)
		if err := o.exec.Run(ctx, []string{"tune2fs", "-U", o.cfg.FirstPartitionUUID, o.state.FirstPartitionDevice}); err != nil {
			return err
		}
		o.state.FirstPartitionUUID = o.cfg.FirstPartitionUUID
		return nil
	}

	out, err := o.exec.Capture(ctx, []string{"blkid", "-o", "value", "-s", "UUID", o.state.FirstPartitionDevice})
	if err != nil {
		return err
	}
	id := strings.TrimSpace(string(out))
	if err := uuidvalidate.Validate(id); err != nil {
		return err
	}
	o.state.FirstPartitionUUID = id
	return nil
}

func (o *Orchestrator) mkdirMountpoint() error {
	dir, err := os.MkdirTemp(mountpointParentDir, "ibuild-")
	if err != nil {
		return fmt.Errorf("creating mountpoint: %w", err)
	}
	o.msg.Info("creating directory %q", dir)
	o.state.Mountpoint = dir
	return nil
}

func (o *Orchestrator) mkdirMountpointEtc() error {
	dir := filepath.Join(o.state.Mountpoint, "etc")
	o.msg.Info("creating directory %q", dir)
	return os.Mkdir(dir, 0755)
}

func (o *Orchestrator) mountDiskPartition(ctx context.Context) error {
	o.msg.Info("mounting partitions")
	return o.exec.Run(ctx, []string{"mount", o.state.FirstPartitionDevice, o.state.Mountpoint})
}

func (o *Orchestrator) unmountDiskPartition(ctx context.Context) error {
	o.msg.Info("unmounting partitions")
	return o.tryUnmount(ctx, o.state.Mountpoint)
}

func (o *Orchestrator) rmdirMountpoint(ctx context.Context) error {
	o.msg.Info("removing directory %q", o.state.Mountpoint)
	var lastErr error
	for i := 0; i < 3; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
		err := os.Remove(o.state.Mountpoint)
		if err == nil {
			o.state.Mountpoint = ""
			return nil
		}
		if !errors.Is(err, syscall.EBUSY) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// ---------------------------------------------------------------------------
// Distro unpack and early config
// ---------------------------------------------------------------------------

func (o *Orchestrator) writeEtcHostname() error {
	path := filepath.Join(o.state.Mountpoint, "etc", "hostname")
	o.msg.Info("writing file %q", path)
	return os.WriteFile(path, []byte(o.cfg.Hostname+"\n"), 0644)
}

func (o *Orchestrator) writeEtcResolvConf() error {
	path := filepath.Join(o.state.Mountpoint, "etc", "resolv.conf")
	o.msg.Info("writing file %q (based on file %q)", path, o.cfg.EtcResolvConfSource)

	input, err := os.ReadFile(o.cfg.EtcResolvConfSource)
	if err != nil {
		return fmt.Errorf("reading %s: %w", o.cfg.EtcResolvConfSource, err)
	}

	var out strings.Builder
	for _, line := range strings.Split(string(input), "\n") {
		line = strings.TrimRight(line, " \t\r")
		if strings.HasPrefix(line, "nameserver") {
			out.WriteString(line)
			out.WriteByte('\n')
		}
	}
	return os.WriteFile(path, []byte(out.String()), 0644)
}

func (o *Orchestrator) writeEtcFstab() error {
	path := filepath.Join(o.state.Mountpoint, "etc", "fstab")
	o.msg.Info("writing file %q", path)
	line := fmt.Sprintf("/dev/disk/by-uuid/%s / auto defaults 0 1\n", o.state.FirstPartitionUUID)
	return os.WriteFile(path, []byte(line), 0644)
}

func (o *Orchestrator) unmountDirectoryBootstrapLeftovers(ctx context.Context) error {
	table, err := LoadMountTable()
	if err != nil {
		return err
	}
	descendants := table.DescendantsOf(o.state.Mountpoint)

	var firstErr error
	for i := len(descendants) - 1; i >= 0; i-- {
		if err := o.tryUnmount(ctx, descendants[i]); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			o.msg.Warn("unmounting leftover mount %s: %v", descendants[i], err)
		}
	}
	return firstErr
}

// ---------------------------------------------------------------------------
// Bootloader
// ---------------------------------------------------------------------------

func (o *Orchestrator) installBootloaderGrub2(ctx context.Context) error {
	realTarget, err := filepath.EvalSymlinks(o.cfg.TargetPath)
	if err != nil {
		realTarget = o.cfg.TargetPath
	}

	useChroot := o.state.BootloaderApproach.usesChroot()
	useDeviceMap := o.state.BootloaderApproach.usesDeviceMap()

	const grubDrive = "(hd0)"
	var deviceMapPath string
	if useDeviceMap {
		deviceMapPath = filepath.Join(o.state.Mountpoint, "boot", "grub", "device.map")
		o.msg.Info("writing device map to %q (mapping %q to %q)", deviceMapPath, grubDrive, realTarget)
		content := fmt.Sprintf("%s\t%s\n", grubDrive, realTarget)
		if err := os.WriteFile(deviceMapPath, []byte(content), 0644); err != nil {
			return fmt.Errorf("writing device map: %w", err)
		}
	}

	o.msg.Info("installing bootloader to device %q (approach %q)", o.cfg.TargetPath, o.state.BootloaderApproach)

	var argv []string
	var opts []RunOption
	if useChroot {
		argv = []string{"chroot", o.state.Mountpoint, o.distro.ChrootGrub2InstallCommand()}
		opts = append(opts, WithEnv(o.makeEnvironment(false)))
	} else {
		argv = []string{o.state.Grub2InstallCommand, "--boot-directory", filepath.Join(o.state.Mountpoint, "boot")}
	}

	if o.cfg.BootloaderForce {
		argv = append(argv, "--force")
	}
	if useDeviceMap {
		argv = append(argv, grubDrive)
	} else {
		argv = append(argv, o.cfg.TargetPath)
	}

	if err := o.exec.Run(ctx, argv, opts...); err != nil {
		return err
	}

	if useDeviceMap {
		if err := os.Remove(deviceMapPath); err != nil {
			return fmt.Errorf("removing device map: %w", err)
		}
	}
	return nil
}

func (o *Orchestrator) fixGrubCfgRootDevice(ctx context.Context) error {
	o.msg.Info("post-processing GRUB config")
	path := filepath.Join(o.state.Mountpoint, "boot", "grub", "grub.cfg")
	pattern := fmt.Sprintf(`s,root=[^ ]\+,root=UUID=%s,g`, o.state.FirstPartitionUUID)
	return o.exec.Run(ctx, []string{"sed", pattern, "-i", path})
}

// ---------------------------------------------------------------------------
// Non-disk chroot mounts
// ---------------------------------------------------------------------------

func (o *Orchestrator) mountNonDiskChrootMounts(ctx context.Context) error {
	o.msg.Info("mounting non-disk file systems")
	for _, task := range nonDiskMountTasks {
		argv := append([]string{"mount", task.source}, task.options...)
		argv = append(argv, filepath.Join(o.state.Mountpoint, task.target))
		if err := o.exec.Run(ctx, argv); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) unmountNonDiskChrootMounts(ctx context.Context) error {
	o.msg.Info("unmounting non-disk file systems")
	var firstErr error
	for i := len(nonDiskMountTasks) - 1; i >= 0; i-- {
		path := filepath.Join(o.state.Mountpoint, nonDiskMountTasks[i].target)
		if err := o.tryUnmount(ctx, path); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			o.msg.Warn("unmounting %s: %v", path, err)
		}
	}
	return firstErr
}

// ---------------------------------------------------------------------------
// The pipeline itself
// ---------------------------------------------------------------------------

// bootstrapSteps is the number of stages Run reports through Reporter.Step.
const bootstrapSteps = 7

// Run executes the full bootstrap pipeline against a freshly unshared mount
// and UTS namespace: preflight, partition, activate, format, mount, distro
// unpack, bootloader, and a full reverse teardown. Every acquired resource
// is released in strict reverse order of acquisition even when a later step
// fails; the first forward error is the one returned.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.rep.Step(1, bootstrapSteps, "Running preflight checks")
	if err := o.preflight(ctx); err != nil {
		return err
	}
	o.msg.InfoGap()

	// unshare(2) only affects the calling OS thread, and everything this
	// pipeline does afterwards (every mount, every chroot) must stay on
	// that same thread or it would observe the host's namespace instead.
	// Locking here means the goroutine never migrates for the rest of Run.
	runtime.LockOSThread()

	o.rep.Step(2, bootstrapSteps, "Isolating mount and hostname namespaces")
	o.msg.Info("unsharing Linux namespaces (mount, UTS/hostname)")
	if err := Isolate(o.cfg.Hostname); err != nil {
		return err
	}

	o.rep.Step(3, bootstrapSteps, "Partitioning the target device")
	if err := o.partitionDevice(ctx); err != nil {
		return err
	}
	if err := o.setDiskIDInMBR(); err != nil {
		return err
	}

	return o.runWithPartitionDevices(ctx)
}

// runWithPartitionDevices activates partition devices and runs the rest of
// the pipeline inside the deactivation scope: once kpartx/partprobe has
// been asked to expose partitions, kpartx -d must run on unwind even when
// activation itself failed partway (e.g. partprobe retries exhausted with
// mappings already created).
func (o *Orchestrator) runWithPartitionDevices(ctx context.Context) error {
	return runScoped(
		func() error {
			o.rep.Step(4, bootstrapSteps, "Activating partition devices")
			if err := o.kpartxActivate(ctx); err != nil {
				return err
			}
			return o.runAfterActivation(ctx)
		},
		func() error { return o.kpartxDeactivate(ctx) },
	)
}

func (o *Orchestrator) runAfterActivation(ctx context.Context) error {
	o.rep.Step(5, bootstrapSteps, "Creating the root filesystem")
	if err := o.formatPartition(ctx); err != nil {
		return err
	}
	if err := o.resolveFirstPartitionUUID(ctx); err != nil {
		return err
	}
	if err := o.mkdirMountpoint(); err != nil {
		return err
	}

	return runScoped(
		func() error { return o.runAfterMountpointCreated(ctx) },
		func() error { return o.rmdirMountpoint(ctx) },
	)
}

func (o *Orchestrator) runAfterMountpointCreated(ctx context.Context) error {
	if err := o.mountDiskPartition(ctx); err != nil {
		return err
	}

	return runScoped(
		func() error { return o.runInsideMount(ctx) },
		func() error { return o.unmountDiskPartition(ctx) },
	)
}

func (o *Orchestrator) runInsideMount(ctx context.Context) error {
	o.rep.Step(6, bootstrapSteps, "Unpacking the distribution")
	if err := o.mkdirMountpointEtc(); err != nil {
		return err
	}
	if err := o.writeEtcHostname(); err != nil {
		return err
	}
	if err := o.writeEtcResolvConf(); err != nil {
		return err
	}

	if err := runScoped(
		func() error {
			return o.distro.RunDirectoryBootstrap(ctx, o.state.Mountpoint, o.cfg.Architecture, string(o.state.BootloaderApproach))
		},
		func() error { return o.unmountDirectoryBootstrapLeftovers(ctx) },
	); err != nil {
		return err
	}

	o.rep.Step(7, bootstrapSteps, "Configuring the target system")

	// The unpack step may have replaced these; write them again.
	if err := o.writeEtcHostname(); err != nil {
		return err
	}
	if err := o.writeEtcResolvConf(); err != nil {
		return err
	}
	if err := o.writeEtcFstab(); err != nil {
		return err
	}
	if err := o.distro.CreateNetworkConfiguration(ctx, o.state.Mountpoint); err != nil {
		return err
	}

	if o.cfg.ScriptsDirPre != "" {
		o.msg.Info("running pre-chroot scripts")
		if err := runScriptsFrom(ctx, o.exec, o.cfg.ScriptsDirPre, o.cfg.Hostname, o.state.Mountpoint); err != nil {
			return err
		}
	}

	if o.state.BootloaderApproach == BootloaderHostGrub2Device || o.state.BootloaderApproach == BootloaderHostGrub2Drive {
		if err := o.installBootloaderGrub2(ctx); err != nil {
			return err
		}
	}

	if err := o.mountNonDiskChrootMounts(ctx); err != nil {
		return err
	}

	if err := runScoped(
		func() error { return o.runInsideNonDiskMounts(ctx) },
		func() error { return o.unmountNonDiskChrootMounts(ctx) },
	); err != nil {
		return err
	}

	if err := o.distro.PerformPostChrootCleanUp(ctx, o.state.Mountpoint); err != nil {
		return err
	}

	if o.cfg.ScriptsDirPost != "" {
		o.msg.Info("running post-chroot scripts")
		if err := runScriptsFrom(ctx, o.exec, o.cfg.ScriptsDirPost, o.cfg.Hostname, o.state.Mountpoint); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) runInsideNonDiskMounts(ctx context.Context) error {
	if err := SetRootPasswordInTarget(ctx, o.state.Mountpoint, o.rootPassword, o.cfg.DryRun, o.msg); err != nil {
		return err
	}

	if o.state.BootloaderApproach.usesChroot() {
		if err := o.installBootloaderGrub2(ctx); err != nil {
			return err
		}
	}

	if o.state.BootloaderApproach != BootloaderNone {
		o.msg.Info("generating GRUB configuration")
		if err := o.distro.GenerateGrubCfgFromInsideChroot(ctx, o.state.Mountpoint, o.makeEnvironment(false)); err != nil {
			return err
		}
		if err := o.fixGrubCfgRootDevice(ctx); err != nil {
			return err
		}
	}

	o.msg.Info("generating initramfs")
	if err := o.distro.GenerateInitramfsFromInsideChroot(ctx, o.state.Mountpoint, o.makeEnvironment(false)); err != nil {
		return err
	}

	if o.cfg.ScriptsDirChroot != "" {
		if err := runChrootScriptsFrom(ctx, o.exec, o.cfg.ScriptsDirChroot, o.cfg.Hostname, o.state.Mountpoint); err != nil {
			return err
		}
	}
	return nil
}
