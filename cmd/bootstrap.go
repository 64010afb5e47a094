package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/frostyard/ibuild/pkg"
	"github.com/frostyard/ibuild/pkg/distro"
	"github.com/frostyard/ibuild/pkg/distro/debian"
	"github.com/frostyard/ibuild/pkg/distro/oci"
	"github.com/frostyard/ibuild/pkg/types"
)

type bootstrapFlags struct {
	hostname            string
	architecture        string
	suite               string
	mirror              string
	image               string
	imagePull           bool
	rootPassword        string
	rootPasswordFile    string
	etcResolvConf       string
	diskID              string
	partitionUUID       string
	scriptsPre          string
	scriptsChroot       string
	scriptsPost         string
	grub2InstallCommand string
	bootloader          string
	bootloaderForce     bool
	jsonOutput          bool
}

var bsFlags bootstrapFlags

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap DEVICE",
	Short: "Partition, format, and bootstrap a bootable disk from a distro driver",
	Long: `bootstrap partitions a block device with a single MBR ext4 partition,
formats and mounts it, unpacks a distribution into it via a pluggable
driver, writes hostname/resolv.conf/fstab, installs GRUB 2, and runs any
configured pre/chroot/post scripts.

The root filesystem comes either from debootstrap (--suite) or from a
container image exported through the local Docker daemon (--image).

The whole pipeline runs as a single privileged process inside a fresh
mount and UTS namespace, and requires root.

Example:
  ibuild bootstrap /dev/sdb --hostname myhost --suite bookworm
  ibuild bootstrap /dev/sdb --hostname myhost --suite jammy --mirror http://archive.ubuntu.com/ubuntu
  ibuild bootstrap /dev/sdb --hostname myhost --image fedora:41 --image-pull`,
	Args: cobra.ExactArgs(1),
	RunE: runBootstrap,
}

func init() {
	rootCmd.AddCommand(bootstrapCmd)

	bootstrapCmd.Flags().StringVar(&bsFlags.hostname, "hostname", "", "hostname to write into the target (required)")
	bootstrapCmd.Flags().StringVar(&bsFlags.architecture, "arch", "amd64", "target architecture")
	bootstrapCmd.Flags().StringVar(&bsFlags.suite, "suite", "", "debootstrap suite/codename, e.g. bookworm")
	bootstrapCmd.Flags().StringVar(&bsFlags.mirror, "mirror", "http://deb.debian.org/debian", "debootstrap archive mirror")
	bootstrapCmd.Flags().StringVar(&bsFlags.image, "image", "", "container image to export as the root filesystem instead of debootstrap")
	bootstrapCmd.Flags().BoolVar(&bsFlags.imagePull, "image-pull", false, "pull --image from its registry before exporting")
	bootstrapCmd.Flags().StringVar(&bsFlags.rootPassword, "password", "", "root password (visible in process listings, prefer --password-file)")
	bootstrapCmd.Flags().StringVar(&bsFlags.rootPasswordFile, "password-file", "", "file whose first line is the root password")
	bootstrapCmd.Flags().StringVar(&bsFlags.etcResolvConf, "resolv-conf", "/etc/resolv.conf", "host resolv.conf to copy nameserver lines from")
	bootstrapCmd.Flags().StringVar(&bsFlags.diskID, "disk-id", "", "4-byte MBR disk identifier as 8 hex digits")
	bootstrapCmd.Flags().StringVar(&bsFlags.partitionUUID, "partition-uuid", "", "UUID to impose on the root partition (default: read back from blkid)")
	bootstrapCmd.Flags().StringVar(&bsFlags.scriptsPre, "scripts-pre", "", "directory of scripts run outside the chroot before bootloader install")
	bootstrapCmd.Flags().StringVar(&bsFlags.scriptsChroot, "scripts-chroot", "", "directory of scripts run inside the chroot")
	bootstrapCmd.Flags().StringVar(&bsFlags.scriptsPost, "scripts-post", "", "directory of scripts run outside the chroot after teardown of chroot mounts")
	bootstrapCmd.Flags().StringVar(&bsFlags.grub2InstallCommand, "grub2-install", "", "explicit grub2-install command (default: autodetect)")
	bootstrapCmd.Flags().StringVar(&bsFlags.bootloader, "bootloader", "auto", "bootloader approach: auto, host-grub2-device, host-grub2-drive, chroot-grub2-device, chroot-grub2-drive, none")
	bootstrapCmd.Flags().BoolVar(&bsFlags.bootloaderForce, "force-bootloader", false, "pass --force to grub2-install")
	bootstrapCmd.Flags().BoolVar(&bsFlags.jsonOutput, "json", false, "emit JSON Lines progress and a JSON result summary")

	_ = bootstrapCmd.MarkFlagRequired("hostname")
	bootstrapCmd.MarkFlagsMutuallyExclusive("suite", "image")
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	dryRun := viper.GetBool("dry-run")
	targetPath := args[0]

	var msg pkg.Messenger
	var rep pkg.Reporter
	if bsFlags.jsonOutput {
		msg = pkg.NewJSONMessenger(os.Stdout)
		rep = pkg.NewJSONReporter(os.Stdout)
	} else {
		msg = pkg.NewTextMessenger(os.Stdout)
		rep = pkg.NewTextReporter(os.Stdout)
	}

	cfg := &pkg.BootstrapConfig{
		TargetPath:          targetPath,
		Hostname:            bsFlags.hostname,
		Architecture:        bsFlags.architecture,
		RootPassword:        bsFlags.rootPassword,
		RootPasswordFile:    bsFlags.rootPasswordFile,
		EtcResolvConfSource: bsFlags.etcResolvConf,
		DiskID:              bsFlags.diskID,
		FirstPartitionUUID:  bsFlags.partitionUUID,
		ScriptsDirPre:       bsFlags.scriptsPre,
		ScriptsDirChroot:    bsFlags.scriptsChroot,
		ScriptsDirPost:      bsFlags.scriptsPost,
		Grub2InstallCommand: bsFlags.grub2InstallCommand,
		BootloaderApproach:  pkg.BootloaderApproach(bsFlags.bootloader),
		BootloaderForce:     bsFlags.bootloaderForce,
		DryRun:              dryRun,
	}

	lock, err := pkg.AcquireBootstrapLock()
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	exec := pkg.NewExecutor(msg)
	var driver distro.Driver
	switch {
	case bsFlags.image != "":
		driver = oci.New(bsFlags.image, bsFlags.imagePull, exec, msg)
	case bsFlags.suite != "":
		driver = debian.New(bsFlags.suite, bsFlags.mirror, exec, msg)
	default:
		return fmt.Errorf("either --suite or --image is required")
	}

	orch, err := pkg.NewOrchestrator(cfg, driver, msg, rep, exec)
	if err != nil {
		return err
	}

	runErr := orch.Run(cmd.Context())
	state := orch.State()

	if runErr != nil {
		rep.Error(runErr, "bootstrap failed")
		return runErr
	}

	result := types.BootstrapResult{
		Device:        targetPath,
		TargetPath:    targetPath,
		RootPartition: state.FirstPartitionDevice,
		RootUUID:      state.FirstPartitionUUID,
		DiskID:        bsFlags.diskID,
	}
	if info, statErr := os.Stat(targetPath); statErr == nil {
		result.SizeBytes = info.Size()
		result.SizeHuman = pkg.FormatSize(info.Size())
	}

	rep.Complete(fmt.Sprintf("Bootstrap complete: %s (root partition %s, UUID %s)",
		result.TargetPath, result.RootPartition, result.RootUUID), result)
	return nil
}
