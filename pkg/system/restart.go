package system

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// DefaultRestartCommand reloads WireGuard through the OPNsense config daemon.
const DefaultRestartCommand = "configctl wireguard restart"

// Restarter issues the single reload request made after a commit.
type Restarter struct {
	Command string

	runner Runner
	log    *zap.SugaredLogger
}

// NewRestarter returns a Restarter running command through runner.
func NewRestarter(command string, runner Runner, log *zap.SugaredLogger) *Restarter {
	if command == "" {
		command = DefaultRestartCommand
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Restarter{Command: command, runner: runner, log: log}
}

// Restart runs the restart command once. There is no retry.
func (r *Restarter) Restart(ctx context.Context) error {
	name, args, err := SplitCommand(r.Command)
	if err != nil {
		return fmt.Errorf("restart command: %w", err)
	}
	r.log.Infow("restarting wireguard", "command", r.Command)
	if _, err := r.runner.Run(ctx, nil, name, args...); err != nil {
		return fmt.Errorf("restarting wireguard: %w", err)
	}
	return nil
}
