package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

const (
	launchdLabel = "com.signalgate.relay"
	systemdUnit  = "signalgate.service"
)

// serviceFile is a user-level service definition for one init system.
type serviceFile struct {
	Path    string
	Content string
	Hints   []string // printed after install
}

// relayService builds the service file that runs 'signalgate run' with
// cfgPath on goos.
func relayService(goos, home, execPath, cfgPath string) (*serviceFile, error) {
	switch goos {
	case "darwin":
		path := filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
		logDir := filepath.Join(home, ".signalgate", "logs")
		return &serviceFile{
			Path: path,
			Content: strings.NewReplacer(
				"{{LABEL}}", launchdLabel,
				"{{EXEC}}", xmlEscape(execPath),
				"{{CONFIG}}", xmlEscape(cfgPath),
				"{{LOG}}", xmlEscape(filepath.Join(logDir, "signalgate.log")),
				"{{ERR_LOG}}", xmlEscape(filepath.Join(logDir, "signalgate-error.log")),
			).Replace(launchdTemplate),
			Hints: []string{
				"To start: launchctl load " + path,
				"To stop:  launchctl unload " + path,
			},
		}, nil
	case "linux":
		return &serviceFile{
			Path: filepath.Join(home, ".config", "systemd", "user", systemdUnit),
			Content: strings.NewReplacer(
				"{{EXEC}}", systemdQuote(execPath),
				"{{CONFIG}}", systemdQuote(cfgPath),
			).Replace(systemdTemplate),
			Hints: []string{
				"To start:  systemctl --user start signalgate",
				"To enable: systemctl --user enable signalgate",
				"To follow: journalctl --user -u signalgate -f",
			},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", goos)
	}
}

func xmlEscape(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}

// systemdQuote quotes paths with spaces for ExecStart.
func systemdQuote(s string) string {
	if !strings.ContainsAny(s, " \t\"") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

func currentRelayService() (*serviceFile, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	execPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("cannot determine executable path: %w", err)
	}
	return relayService(runtime.GOOS, home, execPath, resolveConfigPath())
}

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background relay service (launchd/systemd)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Install 'signalgate run' as a user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := currentRelayService()
			if err != nil {
				return err
			}
			if runtime.GOOS == "darwin" {
				home, _ := os.UserHomeDir()
				if err := os.MkdirAll(filepath.Join(home, ".signalgate", "logs"), 0o755); err != nil {
					return err
				}
			}
			if err := os.MkdirAll(filepath.Dir(svc.Path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(svc.Path, []byte(svc.Content), 0o644); err != nil {
				return err
			}
			fmt.Printf("Daemon installed: %s\n", svc.Path)
			for _, h := range svc.Hints {
				fmt.Println(h)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove the relay service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := currentRelayService()
			if err != nil {
				return err
			}
			if err := os.Remove(svc.Path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Printf("Daemon uninstalled: %s\n", svc.Path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "print",
		Short: "Print the service file without installing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := currentRelayService()
			if err != nil {
				return err
			}
			fmt.Printf("# %s\n%s\n", svc.Path, svc.Content)
			return nil
		},
	})

	return cmd
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{LABEL}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{EXEC}}</string>
        <string>run</string>
        <string>--config</string>
        <string>{{CONFIG}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{LOG}}</string>
    <key>StandardErrorPath</key>
    <string>{{ERR_LOG}}</string>
</dict>
</plist>`

const systemdTemplate = `[Unit]
Description=signalgate Signal relay
After=network-online.target

[Service]
Type=simple
ExecStart={{EXEC}} run --config {{CONFIG}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target`
