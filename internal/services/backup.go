package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/systmms/rekey/internal/config"
	dserrors "github.com/systmms/rekey/internal/errors"
	"github.com/systmms/rekey/pkg/exec"
)

// ErrBackupNotConfigured is returned by Trigger when no backup command is set.
var ErrBackupNotConfigured = errors.New("no backup command configured")

// Backup produces a database backup before destructive rotations.
type Backup interface {
	Configured() bool
	// Trigger runs the backup and returns the path of the file it produced.
	Trigger(ctx context.Context) (string, error)
}

// CommandBackup runs an operator-supplied command. Success requires exit
// status 0 and the last line of stdout naming a file that exists and is not
// empty.
type CommandBackup struct {
	runner  exec.CommandRunner
	command []string
	timeout time.Duration
}

// NewCommandBackup builds the trigger from the backup config.
func NewCommandBackup(runner exec.CommandRunner, cfg config.BackupConfig) *CommandBackup {
	if runner == nil {
		runner = exec.DefaultRunner()
	}
	return &CommandBackup{
		runner:  runner,
		command: cfg.Command,
		timeout: cfg.Timeout(),
	}
}

// Configured implements Backup.
func (b *CommandBackup) Configured() bool {
	return len(b.command) > 0
}

// Trigger implements Backup.
func (b *CommandBackup) Trigger(ctx context.Context) (string, error) {
	if !b.Configured() {
		return "", ErrBackupNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cmdline := strings.Join(b.command, " ")
	res := b.runner.Run(ctx, b.command[0], b.command[1:]...)
	if !res.Success() {
		msg := strings.TrimSpace(string(res.Stderr))
		if res.Err != nil {
			msg = res.Err.Error()
		}
		return "", dserrors.CommandError{
			Command:    cmdline,
			ExitCode:   res.ExitCode,
			Message:    msg,
			Suggestion: "Run the backup command by hand to see why it failed",
		}
	}

	path := res.LastLine()
	if path == "" {
		return "", dserrors.CommandError{
			Command:    cmdline,
			Message:    "backup command printed no file path",
			Suggestion: "The backup command must print the backup file path as its last line",
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("backup file %s reported by %q: %w", path, cmdline, err)
	}
	if info.IsDir() || info.Size() == 0 {
		return "", fmt.Errorf("backup file %s reported by %q is empty or not a file", path, cmdline)
	}
	return path, nil
}
