package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"signalgate/internal/client"
	"signalgate/internal/config"
	"signalgate/internal/memory"
	"signalgate/internal/signalcli"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
	logLevel   string // overrides general.logLevel when set
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:          "signalgate",
		Short:        "signalgate: a signal-cli wrapper with receipt-confirmed sends",
		Long:         "signalgate drives signal-cli for one account: send with delivery confirmation, receive, review and trust identities, and relay incoming messages.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file, .json or .yaml (default: ~/.signalgate/config.json)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override general.logLevel (debug, info, warn, error)")

	root.AddCommand(initCmd())
	root.AddCommand(wizardCmd())
	root.AddCommand(receiveCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(identitiesCmd())
	root.AddCommand(trustCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(runCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())
	root.AddCommand(daemonCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			fmt.Printf("Next: set your account with 'signalgate config set signal.account +15551234567'\n")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return config.ExpandPath(configPath)
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file, falling back to defaults when it does
// not exist, and reconfigures the logger from it.
func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if _, statErr := os.Stat(cfgPath); !os.IsNotExist(statErr) {
			return nil, fmt.Errorf("load config: %w", err)
		}
		logger.Debug("config not found, using defaults", "path", cfgPath)
		cfg = config.Defaults()
	}
	if logLevel != "" {
		cfg.General.LogLevel = logLevel
	}
	if err := setupLogger(cfg.General); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogger(gc config.GeneralConfig) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(gc.LogLevel)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	var w io.Writer = os.Stderr
	if gc.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(gc.LogFile), 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(gc.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
	}
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

// newClient builds the signal-cli gateway and the gated client over it.
func newClient(cfg *config.Config) (*client.Client, error) {
	if cfg.Signal.Account == "" {
		return nil, fmt.Errorf("signal.account is not set (signalgate config set signal.account +15551234567)")
	}
	gw, err := signalcli.NewGateway(signalcli.GatewayConfig{
		Executable: cfg.Signal.Executable,
		Account:    cfg.Signal.Account,
		ConfigDir:  cfg.Signal.ConfigDir,
		Timeout:    cfg.Signal.Timeout(),
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	return client.New(client.Config{
		Transport: gw,
		Receipt: client.ReceiptPolicy{
			MaxAttempts:  cfg.Receipt.MaxAttempts,
			PollInterval: cfg.Receipt.PollInterval(),
			Deadline:     cfg.Receipt.Deadline(),
		},
		ReceiveTimeout: cfg.Signal.ReceiveTimeout(),
		Logger:         logger,
	})
}

// openStore opens the history store, or returns nil when it is disabled.
func openStore(cfg *config.Config) (*memory.SQLiteStore, error) {
	if !cfg.Store.Enabled {
		return nil, nil
	}
	store, err := memory.NewSQLiteStore(cfg.Store.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("history store: %w", err)
	}
	return store, nil
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. signal.account)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. receipt.maxAttempts 20)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			shown := args[1]
			if strings.Contains(strings.ToLower(args[0]), "token") {
				shown = "***"
			}
			logger.Info("config updated", "path", args[0], "value", shown, "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			paths := config.ListPaths(config.Sanitize(cfg))
			keys := make([]string, 0, len(paths))
			for k := range paths {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			for _, k := range keys {
				data, _ := json.Marshal(paths[k])
				fmt.Printf("%s = %s\n", k, data)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
