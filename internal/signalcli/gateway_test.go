package signalcli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// fakeCLI writes an executable shell script standing in for signal-cli.
func fakeCLI(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "signal-cli")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestGateway(t *testing.T, body string, timeout time.Duration) *Gateway {
	t.Helper()
	g, err := NewGateway(GatewayConfig{
		Executable: fakeCLI(t, body),
		Account:    "+61400000000",
		Timeout:    timeout,
		Logger:     testLogger(),
	})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	return g
}

func TestNewGateway_RequiresAccount(t *testing.T) {
	if _, err := NewGateway(GatewayConfig{Executable: "sh"}); err == nil {
		t.Fatal("expected error for missing account")
	}
}

func TestNewGateway_MissingExecutable(t *testing.T) {
	_, err := NewGateway(GatewayConfig{Executable: "/nonexistent/signal-cli", Account: "+1"})
	if err == nil {
		t.Fatal("expected error for missing executable")
	}
}

func TestNewGateway_Defaults(t *testing.T) {
	g := newTestGateway(t, "exit 0", 0)
	if g.timeout != defaultTimeout {
		t.Errorf("timeout = %v, want %v", g.timeout, defaultTimeout)
	}
	if g.Account() != "+61400000000" {
		t.Errorf("account = %q", g.Account())
	}
}

func TestGateway_Invoke_PassesArguments(t *testing.T) {
	g := newTestGateway(t, `echo "$@"`, 5*time.Second)
	out, err := g.Invoke(context.Background(), "send", "-m", "hello", "+64275263733")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	want := "-u +61400000000 send -m hello +64275263733\n"
	if out.Stdout != want {
		t.Errorf("stdout = %q, want %q", out.Stdout, want)
	}
}

func TestGateway_Invoke_ConfigDir(t *testing.T) {
	g := newTestGateway(t, `echo "$@"`, 5*time.Second)
	g.configDir = "/var/lib/signal"
	out, err := g.Invoke(context.Background(), "receive")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.HasPrefix(out.Stdout, "--config /var/lib/signal -u +61400000000 receive") {
		t.Errorf("stdout = %q", out.Stdout)
	}
}

func TestGateway_Invoke_CapturesMultilineOutput(t *testing.T) {
	g := newTestGateway(t, `printf 'Envelope from: +1 (device: 1)\nGot receipt.\n\n'`, 5*time.Second)
	out, err := g.Invoke(context.Background(), "receive")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.Stdout != "Envelope from: +1 (device: 1)\nGot receipt.\n\n" {
		t.Errorf("stdout = %q", out.Stdout)
	}
}

func TestGateway_Invoke_NonZeroExit(t *testing.T) {
	g := newTestGateway(t, `echo 'Untrusted Identity for "+64220908052"' >&2; exit 3`, 5*time.Second)
	_, err := g.Invoke(context.Background(), "send", "-m", "x", "+64220908052")
	if !errors.Is(err, NonZeroExit) {
		t.Fatalf("expected NonZeroExit, got %v", err)
	}
	var procErr *ProcessError
	if !errors.As(err, &procErr) {
		t.Fatalf("expected *ProcessError, got %T", err)
	}
	if procErr.ExitCode != 3 {
		t.Errorf("exit code = %d", procErr.ExitCode)
	}
	if !strings.Contains(procErr.Stderr, "Untrusted Identity") {
		t.Errorf("stderr = %q", procErr.Stderr)
	}
	if IsTimeout(err) {
		t.Error("non-zero exit reported as timeout")
	}
}

func TestGateway_Invoke_Timeout(t *testing.T) {
	g := newTestGateway(t, "exec sleep 5", 200*time.Millisecond)
	start := time.Now()
	_, err := g.Invoke(context.Background(), "receive")
	if !IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("timeout not enforced, took %v", elapsed)
	}
}

func TestGateway_Invoke_CancelledContext(t *testing.T) {
	g := newTestGateway(t, "exec sleep 5", 5*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Invoke(ctx, "receive")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if IsTimeout(err) {
		t.Error("cancellation reported as timeout")
	}
}

func TestGateway_Invoke_CallerDeadline(t *testing.T) {
	g := newTestGateway(t, "exec sleep 5", 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := g.Invoke(ctx, "receive")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if IsTimeout(err) {
		t.Error("caller deadline reported as gateway timeout")
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("caller deadline not enforced, took %v", elapsed)
	}
}

func TestProcessError_Messages(t *testing.T) {
	e := &ProcessError{Kind: Timeout, Op: "receive", Timeout: time.Minute}
	if e.Error() != "signal-cli receive: timed out after 1m0s" {
		t.Errorf("timeout message = %q", e.Error())
	}
	e = &ProcessError{Kind: NonZeroExit, Op: "send", ExitCode: 1, Stderr: "boom\n"}
	if e.Error() != "signal-cli send: exit status 1: boom" {
		t.Errorf("exit message = %q", e.Error())
	}
}
