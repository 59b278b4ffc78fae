// Package services drives the containers that consume the deployment's
// secrets and the operator's backup command.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/systmms/rekey/internal/config"
	dserrors "github.com/systmms/rekey/internal/errors"
	"github.com/systmms/rekey/internal/logging"
	"github.com/systmms/rekey/pkg/exec"
)

// Orchestrator stops, starts and restarts named services.
type Orchestrator interface {
	Stop(ctx context.Context, names ...string) error
	Start(ctx context.Context, names ...string) error
	Restart(ctx context.Context, names ...string) error
}

// Compose runs docker compose (or a compatible command) through a
// CommandRunner.
type Compose struct {
	runner  exec.CommandRunner
	command []string
	file    string
	project string
	timeout time.Duration
	logger  *logging.Logger
}

// NewCompose builds an orchestrator from the services config. composeFile
// is the already resolved path, or "" to let compose find it.
func NewCompose(runner exec.CommandRunner, cfg config.ServicesConfig, composeFile string, logger *logging.Logger) *Compose {
	if runner == nil {
		runner = exec.DefaultRunner()
	}
	command := cfg.Command
	if len(command) == 0 {
		command = []string{"docker", "compose"}
	}
	return &Compose{
		runner:  runner,
		command: command,
		file:    composeFile,
		project: cfg.Project,
		timeout: cfg.Timeout(),
		logger:  logger,
	}
}

// Stop implements Orchestrator.
func (c *Compose) Stop(ctx context.Context, names ...string) error {
	return c.run(ctx, "stop", names)
}

// Start implements Orchestrator.
func (c *Compose) Start(ctx context.Context, names ...string) error {
	return c.run(ctx, "start", names)
}

// Restart implements Orchestrator. Restarted containers re-read the env
// file only if compose recreates them, so this uses "up -d --force-recreate".
func (c *Compose) Restart(ctx context.Context, names ...string) error {
	return c.run(ctx, "up", names, "-d", "--force-recreate", "--no-deps")
}

func (c *Compose) run(ctx context.Context, verb string, names []string, flags ...string) error {
	if len(names) == 0 {
		return nil
	}

	args := append([]string(nil), c.command[1:]...)
	if c.file != "" {
		args = append(args, "-f", c.file)
	}
	if c.project != "" {
		args = append(args, "-p", c.project)
	}
	args = append(args, verb)
	args = append(args, flags...)
	args = append(args, names...)

	cmdline := strings.Join(append([]string{c.command[0]}, args...), " ")
	if c.logger != nil {
		c.logger.Debug("Running %s", cmdline)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res := c.runner.Run(ctx, c.command[0], args...)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return dserrors.CommandError{
			Command:    cmdline,
			ExitCode:   res.ExitCode,
			Message:    fmt.Sprintf("timed out after %s", c.timeout),
			Suggestion: "Check the service logs; raise services.timeout_ms if the services start slowly",
		}
	}
	if res.Err != nil {
		return dserrors.CommandError{
			Command:    cmdline,
			ExitCode:   res.ExitCode,
			Message:    res.Err.Error(),
			Suggestion: "Check that docker compose is installed and the daemon is running",
		}
	}
	if res.ExitCode != 0 {
		return dserrors.CommandError{
			Command:  cmdline,
			ExitCode: res.ExitCode,
			Message:  strings.TrimSpace(string(res.Stderr)),
		}
	}
	return nil
}
