package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"signalgate/internal/config"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func backupCmd() *cobra.Command {
	var (
		outputPath     string
		encrypt        bool
		passphraseFile string
	)

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a backup of signalgate data (history database + config)",
		Long: `Creates a zstd-compressed tar archive containing the history database
and configuration file, with a BLAKE3 manifest that restore verifies.
With --encrypt the archive is age-encrypted under a passphrase. The backup
is timestamped by default. signal-cli's own account data is not included.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			dbPath := resolveDBPath(cfgPath)

			var passphrase string
			if encrypt || passphraseFile != "" {
				var err error
				if passphrase, err = readPassphrase(passphraseFile, true); err != nil {
					return err
				}
			}

			if outputPath == "" {
				backupDir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(backupDir, 0o700); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				name := fmt.Sprintf("signalgate-backup-%s.tar.zst", time.Now().Format("20060102-150405"))
				if passphrase != "" {
					name += ".age"
				}
				outputPath = filepath.Join(backupDir, name)
			}

			files := backupFiles(dbPath, cfgPath)
			if len(files) == 0 {
				return fmt.Errorf("no files to backup (db: %s, config: %s)", dbPath, cfgPath)
			}

			if err := writeArchive(outputPath, files, passphrase); err != nil {
				os.Remove(outputPath)
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			if passphrase != "" {
				fmt.Printf("Encrypted: yes (keep the passphrase, it cannot be recovered)\n")
			}
			fmt.Printf("Files included: %d\n", len(files))
			for _, f := range files {
				var size uint64
				if info, err := os.Stat(f); err == nil {
					size = uint64(info.Size())
				}
				fmt.Printf("  - %s (%s)\n", filepath.Base(f), humanize.Bytes(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: ~/.signalgate/backups/signalgate-backup-<timestamp>.tar.zst)")
	cmd.Flags().BoolVar(&encrypt, "encrypt", false, "encrypt the archive with a passphrase (prompted)")
	cmd.Flags().StringVar(&passphraseFile, "passphrase-file", "", "read the encryption passphrase from a file (implies --encrypt)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var (
		inputPath      string
		force          bool
		passphraseFile string
	)

	cmd := &cobra.Command{
		Use:   "restore [archive]",
		Short: "Restore signalgate data from a backup archive",
		Long: `Restores the history database and configuration file from an archive
created by 'signalgate backup'. Encrypted archives prompt for the passphrase.
Files are checked against the archive manifest before anything is replaced.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if inputPath == "" && len(args) > 0 {
				inputPath = args[0]
			}
			if inputPath == "" {
				return fmt.Errorf("specify a backup file: signalgate restore <archive>")
			}

			cfgPath := resolveConfigPath()
			dbPath := resolveDBPath(cfgPath)

			if !force && (fileExists(dbPath) || fileExists(cfgPath)) {
				fmt.Printf("WARNING: This will overwrite existing data.\n")
				fmt.Printf("  Database: %s\n", dbPath)
				fmt.Printf("  Config:   %s\n", cfgPath)
				fmt.Printf("Use --force to skip this warning.\n")
				return fmt.Errorf("restore aborted (use --force to proceed)")
			}

			var passphrase string
			encrypted, err := isEncryptedArchive(inputPath)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			if encrypted {
				if passphrase, err = readPassphrase(passphraseFile, false); err != nil {
					return err
				}
			}

			restored, err := extractArchive(inputPath, dbPath, cfgPath, passphrase)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			fmt.Printf("Restore completed from: %s\n", inputPath)
			fmt.Printf("Files restored: %d\n", len(restored))
			for _, f := range restored {
				fmt.Printf("  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "backup file to restore from")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data without warning")
	cmd.Flags().StringVar(&passphraseFile, "passphrase-file", "", "read the decryption passphrase from a file")
	return cmd
}

// readPassphrase reads the archive passphrase from path, or prompts on the
// terminal when path is empty. confirm asks for it twice.
func readPassphrase(path string, confirm bool) (string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading passphrase file: %w", err)
		}
		pass := strings.TrimRight(string(data), "\r\n")
		if pass == "" {
			return "", fmt.Errorf("passphrase file %s is empty", path)
		}
		return pass, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal available for passphrase prompt (use --passphrase-file)")
	}
	fmt.Fprint(os.Stderr, "Passphrase: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if len(first) == 0 {
		return "", errors.New("empty passphrase")
	}
	if confirm {
		fmt.Fprint(os.Stderr, "Confirm passphrase: ")
		second, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		if string(first) != string(second) {
			return "", errors.New("passphrases do not match")
		}
	}
	return string(first), nil
}

// resolveDBPath reads store.dbPath from the config file, falling back to
// the default location when the config cannot be loaded.
func resolveDBPath(cfgPath string) string {
	if cfg, err := config.Load(cfgPath); err == nil && cfg.Store.DBPath != "" {
		return cfg.Store.DBPath
	}
	return config.ExpandPath(config.Defaults().Store.DBPath)
}

// backupFiles lists the existing files to archive: the database with its
// WAL and SHM siblings, then the config file.
func backupFiles(dbPath, cfgPath string) []string {
	var files []string
	if fileExists(dbPath) {
		files = append(files, dbPath)
		for _, suffix := range []string{"-wal", "-shm"} {
			if fileExists(dbPath + suffix) {
				files = append(files, dbPath+suffix)
			}
		}
	}
	if fileExists(cfgPath) {
		files = append(files, cfgPath)
	}
	return files
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
