package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Runner invokes the host CLI to deliver a message into the agent
// session. Failures are terminal: no retry, the caller keeps its
// logged decision.
type Runner struct {
	command   string
	sessionID string
	channel   string
	timeout   time.Duration
	logger    *slog.Logger
}

func NewRunner(command, sessionID, channel string, timeout time.Duration, logger *slog.Logger) *Runner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Runner{
		command:   command,
		sessionID: sessionID,
		channel:   channel,
		timeout:   timeout,
		logger:    logger,
	}
}

func (r *Runner) Deliver(ctx context.Context, message string) error {
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	cmd := exec.CommandContext(cctx, r.command,
		"agent",
		"--session-id", r.sessionID,
		"--deliver",
		"--channel", r.channel,
		"--message", message,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if r.logger != nil {
			r.logger.Error("agent delivery failed",
				"command", r.command,
				"err", err,
				"output", strings.TrimSpace(string(out)),
			)
		}
		return fmt.Errorf("deliver via %s: %w", r.command, err)
	}
	return nil
}
