package syncer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rcsb/rcsb-pdb-chatbot/internal/apperrors"
)

const defaultKBSyncTimeout = 10 * time.Minute

// CommandTrigger runs an external command to ingest synced files into the
// knowledge base. The command's exit code is the sole success signal.
type CommandTrigger struct {
	command string
	timeout time.Duration
	logger  *slog.Logger
}

// NewCommandTrigger creates a trigger for the given shell-less command line.
// An empty command means "re-run this binary with `kb sync`".
func NewCommandTrigger(command string, timeout time.Duration, logger *slog.Logger) *CommandTrigger {
	if timeout <= 0 {
		timeout = defaultKBSyncTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &CommandTrigger{command: command, timeout: timeout, logger: logger}
}

// TriggerSync implements KBTrigger.
func (t *CommandTrigger) TriggerSync(ctx context.Context) error {
	name, args, err := t.commandLine()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	t.logger.InfoContext(ctx, "running knowledge base sync", "command", name, "args", args)

	runErr := cmd.Run()

	t.relay(ctx, "stdout", &stdout, slog.LevelInfo)
	t.relay(ctx, "stderr", &stderr, slog.LevelWarn)

	if runErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: after %s", apperrors.ErrKBSyncTimeout, t.timeout)
		}

		return fmt.Errorf("knowledge base sync: %w", runErr)
	}

	return nil
}

// commandLine resolves the command to run, defaulting to this binary.
func (t *CommandTrigger) commandLine() (string, []string, error) {
	if t.command != "" {
		fields := strings.Fields(t.command)

		return fields[0], fields[1:], nil
	}

	self, err := os.Executable()
	if err != nil {
		return "", nil, fmt.Errorf("resolve executable: %w", err)
	}

	return self, []string{"kb", "sync"}, nil
}

// relay copies subprocess output into the log line by line.
func (t *CommandTrigger) relay(ctx context.Context, stream string, buf *bytes.Buffer, level slog.Level) {
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			t.logger.Log(ctx, level, "kb sync "+stream, "line", line)
		}
	}
}
