// Package signalcli runs the signal-cli binary as the transport: one
// process per operation, complete stdout captured before returning.
package signalcli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"signalgate/internal/domain"
	"signalgate/internal/metrics"
)

const (
	defaultExecutable = "signal-cli"
	defaultTimeout    = 60 * time.Second

	// waitDelay bounds how long Wait blocks on pipes held open by a
	// killed process's children (the JVM forks helpers).
	waitDelay = 5 * time.Second
)

type GatewayConfig struct {
	Executable string // name or path; resolved through PATH
	Account    string // registered number, passed as -u
	ConfigDir  string // optional --config directory
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Gateway invokes signal-cli on behalf of one account. It is stateless
// between calls; serializing access is the caller's job.
type Gateway struct {
	executable string
	account    string
	configDir  string
	timeout    time.Duration
	logger     *slog.Logger
}

var _ domain.Transport = (*Gateway)(nil)

func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.Account == "" {
		return nil, errors.New("signal-cli gateway: account is required")
	}
	if cfg.Executable == "" {
		cfg.Executable = defaultExecutable
	}
	path, err := exec.LookPath(cfg.Executable)
	if err != nil {
		return nil, fmt.Errorf("signal-cli gateway: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gateway{
		executable: path,
		account:    cfg.Account,
		configDir:  cfg.ConfigDir,
		timeout:    cfg.Timeout,
		logger:     cfg.Logger,
	}, nil
}

// Account returns the number this gateway acts for.
func (g *Gateway) Account() string { return g.account }

// Executable returns the resolved signal-cli path.
func (g *Gateway) Executable() string { return g.executable }

// Invoke runs `signal-cli [--config DIR] -u ACCOUNT op args...` and returns
// its complete output. A run exceeding the gateway timeout is killed and
// reported as a Timeout ProcessError; a non-zero exit is reported as
// NonZeroExit with stderr attached. When ctx is cancelled or its deadline
// passes first, the process is killed and ctx.Err() is returned wrapped.
func (g *Gateway) Invoke(ctx context.Context, op string, args ...string) (*domain.RawOutput, error) {
	argv := make([]string, 0, len(args)+5)
	if g.configDir != "" {
		argv = append(argv, "--config", g.configDir)
	}
	argv = append(argv, "-u", g.account, op)
	argv = append(argv, args...)

	runCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, g.executable, argv...)
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	g.logger.Debug("signal-cli invoke", "op", op, "args", len(args))
	metrics.TransportCalls.Inc()
	start := time.Now()
	err := cmd.Run()
	metrics.TransportLatency.Observe(time.Since(start).Seconds())

	out := &domain.RawOutput{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return out, nil
	}

	metrics.TransportFailures.Inc()
	switch {
	case ctx.Err() != nil:
		return nil, fmt.Errorf("signal-cli %s: %w", op, ctx.Err())
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		metrics.TransportTimeouts.Inc()
		g.logger.Warn("signal-cli timed out", "op", op, "timeout", g.timeout)
		return nil, &ProcessError{Kind: Timeout, Op: op, Timeout: g.timeout, Stdout: out.Stdout, Stderr: out.Stderr}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		g.logger.Warn("signal-cli failed", "op", op, "exit", exitErr.ExitCode())
		return nil, &ProcessError{
			Kind:     NonZeroExit,
			Op:       op,
			ExitCode: exitErr.ExitCode(),
			Stdout:   out.Stdout,
			Stderr:   out.Stderr,
		}
	}
	return nil, fmt.Errorf("signal-cli %s: %w", op, err)
}
