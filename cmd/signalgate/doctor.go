package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"signalgate/internal/config"
	"signalgate/internal/memory"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your signalgate setup",
		Long: `Verifies that the configuration, signal-cli installation, account,
history database and enabled services are correctly set up. Reports
pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("signalgate doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed, failed, warned := 0, 0, 0

			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'signalgate init' to create a default configuration.\n")
				return fmt.Errorf("no config file")
			}
			printPass("Config file", cfgPath)
			passed++

			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, 1 failed\n", passed)
				return fmt.Errorf("invalid config")
			}
			printPass("Config validation", "valid")
			passed++

			if cfg.Signal.Account == "" {
				printFail("Account", "signal.account is not set")
				failed++
			} else {
				printPass("Account", cfg.Signal.Account)
				passed++
			}

			if path, ver, err := checkSignalCLI(cfg.Signal.Executable); err != nil {
				printFail("signal-cli", err.Error())
				failed++
			} else {
				printPass("signal-cli", fmt.Sprintf("%s (%s)", path, ver))
				passed++
			}

			if cfg.Signal.ConfigDir != "" {
				if info, err := os.Stat(cfg.Signal.ConfigDir); err != nil || !info.IsDir() {
					printWarn("signal-cli data", fmt.Sprintf("config dir missing: %s", cfg.Signal.ConfigDir))
					warned++
				} else {
					printPass("signal-cli data", cfg.Signal.ConfigDir)
					passed++
				}
			}

			if cfg.Store.Enabled {
				if v, err := checkDatabase(cfg.Store.DBPath); err != nil {
					printFail("Database", err.Error())
					failed++
				} else {
					printPass("Database", fmt.Sprintf("%s (schema v%d)", cfg.Store.DBPath, v))
					passed++
				}
			} else {
				printWarn("Database", "history store disabled")
				warned++
			}

			if cfg.Telegram.Enabled {
				if len(cfg.Telegram.AllowFrom) == 0 {
					printWarn("Telegram", "allowFrom is empty: any Telegram user can /send")
					warned++
				} else {
					printPass("Telegram", fmt.Sprintf("chat %d, %d allowed user(s)", cfg.Telegram.ChatID, len(cfg.Telegram.AllowFrom)))
					passed++
				}
			}

			if cfg.Metrics.Enabled {
				if err := checkListen(cfg.Metrics.Listen); err != nil {
					printWarn("Metrics", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Listen, err))
					warned++
				} else {
					printPass("Metrics", cfg.Metrics.Listen+cfg.Metrics.Path)
					passed++
				}
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running signalgate.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nsignalgate should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! signalgate is ready to run.\n")
			}
			return nil
		},
	}
}

// checkSignalCLI resolves the executable and asks it for its version.
func checkSignalCLI(executable string) (path, ver string, err error) {
	path, err = exec.LookPath(executable)
	if err != nil {
		return "", "", fmt.Errorf("%s not found in PATH", executable)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return path, "", fmt.Errorf("%s --version: %w", path, err)
	}
	return path, strings.TrimSpace(string(out)), nil
}

// checkDatabase opens the store (applying migrations) and checks it is
// writable.
func checkDatabase(dbPath string) (int, error) {
	store, err := memory.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return 0, err
	}
	store.Close()

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return 0, fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return 0, fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return memory.GetSchemaVersion(db)
}

func checkListen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
