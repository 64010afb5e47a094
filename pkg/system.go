package pkg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// SetRootPasswordInTarget sets the root password inside the mounted target
// filesystem using chpasswd -R, which applies within the chroot without a
// separate manual chroot(2) call. The password is passed via stdin so it
// never appears in a process listing.
func SetRootPasswordInTarget(ctx context.Context, targetDir, password string, dryRun bool, msg Messenger) error {
	if password == "" {
		return nil
	}

	if dryRun {
		msg.Info("would set root password")
		return nil
	}

	msg.Info("setting root password")

	cmd := exec.CommandContext(ctx, "chpasswd", "-R", targetDir)
	cmd.Stdin = strings.NewReader(fmt.Sprintf("root:%s\n", password))
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("setting root password: %w", err)
	}

	return nil
}
