package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"signalgate/internal/config"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func wizardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wizard",
		Short: "Interactive setup: account → signal-cli → history → Telegram → save config",
		Long:  "Guides you through the Signal account, the signal-cli executable, the history store and the optional Telegram relay. Writes config to the path used by --config or default.",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := &prompter{r: bufio.NewReader(os.Stdin), w: os.Stdout}
			if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
				p.readSecret = func() ([]byte, error) { return term.ReadPassword(fd) }
			}
			return runWizard(p, resolveConfigPath())
		},
	}
}

// prompter reads answers line by line, substituting the default for an
// empty answer. readSecret, when set, reads secrets without echo.
type prompter struct {
	r          *bufio.Reader
	w          io.Writer
	readSecret func() ([]byte, error)
}

func (p *prompter) ask(question, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.w, "%s [%s]: ", question, def)
	} else {
		fmt.Fprintf(p.w, "%s: ", question)
	}
	line, err := p.r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	s := strings.TrimSpace(line)
	if s == "" {
		return def, nil
	}
	return s, nil
}

// askSecret is ask without echo. An existing secret is kept on an empty
// answer but never shown.
func (p *prompter) askSecret(question, current string) (string, error) {
	if p.readSecret == nil {
		return p.ask(question, current)
	}
	if current != "" {
		question += " (enter to keep current)"
	}
	fmt.Fprintf(p.w, "%s: ", question)
	b, err := p.readSecret()
	fmt.Fprintln(p.w)
	if err != nil {
		return "", err
	}
	if s := strings.TrimSpace(string(b)); s != "" {
		return s, nil
	}
	return current, nil
}

func (p *prompter) confirm(question string, def bool) (bool, error) {
	d := "n"
	if def {
		d = "y"
	}
	ans, err := p.ask(question+" (y/n)", d)
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(strings.ToLower(ans), "y"), nil
}

func runWizard(p *prompter, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		cfg = config.Defaults()
	}
	out := p.w

	fmt.Fprintln(out, "\n--- Step 1: Signal account ---")
	for {
		acct, err := p.ask("Account phone number (E.164, e.g. +15551234567)", cfg.Signal.Account)
		if err != nil {
			return err
		}
		if config.ValidAccount(acct) {
			cfg.Signal.Account = acct
			break
		}
		fmt.Fprintf(out, "  %q is not a valid E.164 number\n", acct)
	}

	fmt.Fprintln(out, "\n--- Step 2: signal-cli ---")
	exe, err := p.ask("signal-cli executable", cfg.Signal.Executable)
	if err != nil {
		return err
	}
	cfg.Signal.Executable = exe
	if path, err := exec.LookPath(exe); err != nil {
		fmt.Fprintf(out, "  Warning: %s not found in PATH; install signal-cli before sending\n", exe)
	} else {
		fmt.Fprintf(out, "  Found: %s\n", path)
	}
	dir, err := p.ask("signal-cli data directory (empty for signal-cli's default)", cfg.Signal.ConfigDir)
	if err != nil {
		return err
	}
	cfg.Signal.ConfigDir = config.ExpandPath(dir)

	fmt.Fprintln(out, "\n--- Step 3: History ---")
	if cfg.Store.Enabled, err = p.confirm("Keep a local history of messages, identities and sends?", cfg.Store.Enabled); err != nil {
		return err
	}
	if cfg.Store.Enabled {
		dbPath, err := p.ask("History database path", cfg.Store.DBPath)
		if err != nil {
			return err
		}
		cfg.Store.DBPath = config.ExpandPath(dbPath)
	}

	fmt.Fprintln(out, "\n--- Step 4: Telegram relay ---")
	if cfg.Telegram.Enabled, err = p.confirm("Forward incoming Signal messages to a Telegram chat?", cfg.Telegram.Enabled); err != nil {
		return err
	}
	if cfg.Telegram.Enabled {
		cfg.Relay.Enabled = true
		token, err := p.askSecret("Bot token (from @BotFather)", cfg.Telegram.Token)
		if err != nil {
			return err
		}
		cfg.Telegram.Token = token
		def := ""
		if cfg.Telegram.ChatID != 0 {
			def = strconv.FormatInt(cfg.Telegram.ChatID, 10)
		}
		for {
			raw, err := p.ask("Chat ID to forward to", def)
			if err != nil {
				return err
			}
			id, perr := strconv.ParseInt(raw, 10, 64)
			if perr == nil && id != 0 {
				cfg.Telegram.ChatID = id
				break
			}
			fmt.Fprintf(out, "  %q is not a chat ID\n", raw)
		}
		allow, err := p.ask("Telegram user IDs allowed to /send (comma-separated)", strings.Join(cfg.Telegram.AllowFrom, ","))
		if err != nil {
			return err
		}
		cfg.Telegram.AllowFrom = nil
		for id := range strings.SplitSeq(allow, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cfg.Telegram.AllowFrom = append(cfg.Telegram.AllowFrom, id)
			}
		}
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Fprintf(out, "\nConfig saved to %s\n", cfgPath)
	fmt.Fprintln(out, "Next: 'signalgate doctor' to check the setup, then 'signalgate run' to start the relay.")
	return nil
}
