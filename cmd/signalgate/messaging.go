package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"text/tabwriter"
	"time"

	"signalgate/internal/client"
	"signalgate/internal/config"
	"signalgate/internal/domain"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func receiveCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Fetch pending messages once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := newClient(cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			msgs, err := c.Receive(ctx)
			if err != nil {
				return err
			}
			persistMessages(ctx, cfg, msgs)
			return printMessages(os.Stdout, msgs, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print messages as JSON")
	return cmd
}

func sendCmd() *cobra.Command {
	var (
		req    client.SendRequest
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "send -m TEXT [-a FILE]... [--verify-receipt] RECIPIENT...",
		Short: "Send a message, optionally waiting for its delivery receipt",
		Long: `Sends a message to one or more recipients. With --verify-receipt the
command keeps polling until a delivery receipt dated at or after the send
arrives, bounded by the receipt.* settings. Messages received while waiting
are printed and stored, never dropped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			for _, r := range args {
				if !config.ValidAccount(r) {
					return fmt.Errorf("recipient %q is not an E.164 number", r)
				}
			}
			for _, a := range req.Attachments {
				if _, err := os.Stat(a); err != nil {
					return fmt.Errorf("attachment: %w", err)
				}
			}
			c, err := newClient(cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			req.Recipients = args
			res, sendErr := c.Send(ctx, req)
			recordSend(ctx, cfg, req, res, sendErr)
			if res == nil {
				return sendErr
			}
			persistMessages(ctx, cfg, res.Unhandled)

			if res.Receipt != nil {
				fmt.Printf("Delivered: receipt from %s at %s\n", res.Receipt.SenderNumber,
					res.Receipt.ArrivedAt().Format(time.RFC3339))
			} else if !req.VerifyReceipt {
				fmt.Println("Sent.")
			}
			if len(res.Unhandled) > 0 {
				fmt.Printf("%d message(s) received while waiting:\n", len(res.Unhandled))
				if err := printMessages(os.Stdout, res.Unhandled, asJSON); err != nil {
					return err
				}
			}
			return sendErr
		},
	}
	cmd.Flags().StringVarP(&req.Body, "message", "m", "", "message text")
	cmd.Flags().StringArrayVarP(&req.Attachments, "attachment", "a", nil, "file to attach (repeatable)")
	cmd.Flags().BoolVar(&req.VerifyReceipt, "verify-receipt", false, "wait for a delivery receipt")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print unhandled messages as JSON")
	cmd.MarkFlagRequired("message")
	return cmd
}

func identitiesCmd() *cobra.Command {
	var review bool
	cmd := &cobra.Command{
		Use:   "identities [NUMBER]",
		Short: "List identity keys and their trust state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := newClient(cfg)
			if err != nil {
				return err
			}
			ctx := context.Background()

			if review {
				if len(args) == 1 {
					return fmt.Errorf("--review lists all identities; drop NUMBER")
				}
				r, err := c.ReviewIdentities(ctx)
				if err != nil {
					return err
				}
				persistIdentities(ctx, cfg, slices.Concat(r.Untrusted, r.Unverified, r.Verified))
				printReview(os.Stdout, r)
				return nil
			}

			number := ""
			if len(args) == 1 {
				number = args[0]
			}
			ids, err := c.Identities(ctx, number)
			if err != nil {
				return err
			}
			persistIdentities(ctx, cfg, ids)
			printIdentities(os.Stdout, ids)
			return nil
		},
	}
	cmd.Flags().BoolVar(&review, "review", false, "group by trust state and show what to verify")
	return cmd
}

func trustCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "trust NUMBER [SAFETY_NUMBER]",
		Short: "Mark a contact's identity key as verified",
		Long: `Marks NUMBER's identity key verified once you have compared the safety
number with the contact in person or over another channel. The safety number
may be given with or without spaces. --all trusts every known key for
NUMBER without verification.`,
		Args: cobra.RangeArgs(1, 13),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := newClient(cfg)
			if err != nil {
				return err
			}
			ctx := context.Background()
			number := args[0]

			if all {
				if len(args) > 1 {
					return fmt.Errorf("--all takes no safety number")
				}
				if err := c.TrustAllKeys(ctx, number); err != nil {
					return err
				}
				fmt.Printf("Trusted all keys for %s\n", number)
				return nil
			}
			if len(args) < 2 {
				return fmt.Errorf("a safety number is required (or --all)")
			}
			sn, err := safetyNumberFromArgs(args[1:])
			if err != nil {
				return err
			}
			if err := c.Trust(ctx, number, sn); err != nil {
				return err
			}
			fmt.Printf("Verified %s\n", number)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "trust all known keys without verification")
	return cmd
}

func historyCmd() *cobra.Command {
	var (
		limit int
		sends bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show stored messages (or sends) for the configured account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Store.Enabled {
				return fmt.Errorf("history store is disabled (store.enabled)")
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			ctx := context.Background()

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			defer tw.Flush()
			if sends {
				recs, err := store.RecentSends(ctx, cfg.Signal.Account, limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(tw, "SENT\tTO\tSTATUS\tBODY")
				for _, r := range recs {
					fmt.Fprintf(tw, "%s\t%v\t%s\t%s\n", humanize.Time(r.SentAt), r.Recipients, sendStatus(r), r.Body)
				}
				return nil
			}
			stored, err := store.RecentMessages(ctx, cfg.Signal.Account, limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(tw, "RECEIVED\tFROM\tKIND\tBODY")
			for _, sm := range stored {
				m := sm.Message
				kind := "message"
				if m.IsReceipt {
					kind = "receipt"
				}
				fmt.Fprintf(tw, "%s\t%s (%d)\t%s\t%s\n", humanize.Time(sm.ReceivedAt), m.SenderNumber, m.DeviceID, kind, m.Text())
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	cmd.Flags().BoolVar(&sends, "sends", false, "show the send log instead of received messages")
	return cmd
}

func sendStatus(r domain.SendRecord) string {
	switch {
	case r.Error != "":
		return "failed"
	case r.Confirmed:
		return "delivered"
	case r.VerifyReceipt:
		return "unconfirmed"
	default:
		return "sent"
	}
}

func persistMessages(ctx context.Context, cfg *config.Config, msgs []domain.Message) {
	if len(msgs) == 0 || !cfg.Store.Enabled {
		return
	}
	store, err := openStore(cfg)
	if err != nil {
		logger.Warn("messages not stored", "err", err)
		return
	}
	defer store.Close()
	if err := store.SaveMessages(ctx, cfg.Signal.Account, msgs); err != nil {
		logger.Warn("messages not stored", "err", err)
	}
}

func persistIdentities(ctx context.Context, cfg *config.Config, ids []domain.Identity) {
	if len(ids) == 0 || !cfg.Store.Enabled {
		return
	}
	store, err := openStore(cfg)
	if err != nil {
		logger.Warn("identities not stored", "err", err)
		return
	}
	defer store.Close()
	if err := store.SaveIdentities(ctx, cfg.Signal.Account, ids); err != nil {
		logger.Warn("identities not stored", "err", err)
	}
}

func recordSend(ctx context.Context, cfg *config.Config, req client.SendRequest, res *client.SendResult, sendErr error) {
	if !cfg.Store.Enabled {
		return
	}
	rec := domain.SendRecord{
		Account:       cfg.Signal.Account,
		Recipients:    req.Recipients,
		Body:          req.Body,
		Attachments:   req.Attachments,
		SentAt:        time.Now(),
		VerifyReceipt: req.VerifyReceipt,
	}
	if res != nil {
		rec.SentAt = res.SentAt
		if res.Receipt != nil {
			rec.Confirmed = true
			rec.ReceiptTimestamp = res.Receipt.Timestamp
		}
	}
	if sendErr != nil {
		rec.Error = sendErr.Error()
	}
	store, err := openStore(cfg)
	if err != nil {
		logger.Warn("send not recorded", "err", err)
		return
	}
	defer store.Close()
	// The caller's ctx may already be cancelled when the send was interrupted.
	if err := store.RecordSend(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warn("send not recorded", "err", err)
	}
}

func printMessages(w io.Writer, msgs []domain.Message, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if msgs == nil {
			msgs = []domain.Message{}
		}
		return enc.Encode(msgs)
	}
	for _, m := range msgs {
		when := m.ArrivedAt().Local().Format("2006-01-02 15:04:05")
		if m.IsReceipt {
			fmt.Fprintf(w, "[%s] %s (device %d): delivery receipt\n", when, m.SenderNumber, m.DeviceID)
			continue
		}
		fmt.Fprintf(w, "[%s] %s (device %d): %s\n", when, m.SenderNumber, m.DeviceID, m.Text())
	}
	return nil
}

func printIdentities(w io.Writer, ids []domain.Identity) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()
	fmt.Fprintln(tw, "NUMBER\tTRUST\tADDED\tSAFETY NUMBER")
	for _, id := range ids {
		added := id.Added
		if !id.AddedAt.IsZero() {
			added = humanize.Time(id.AddedAt)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", id.Number, id.TrustStatus, added, id.SafetyNumber)
	}
}

func printReview(w io.Writer, r client.IdentityReview) {
	fmt.Fprintf(w, "%d verified, %d trusted but unverified, %d untrusted\n",
		len(r.Verified), len(r.Unverified), len(r.Untrusted))
	if !r.NeedsAttention() {
		return
	}
	fmt.Fprintln(w, "\nCompare these safety numbers with each contact, then run 'signalgate trust NUMBER SAFETY_NUMBER':")
	for _, id := range slices.Concat(r.Untrusted, r.Unverified) {
		fmt.Fprintf(w, "  %s (%s)\n    %s\n", id.Number, id.TrustStatus, id.SafetyNumber)
	}
}

// safetyNumberFromArgs accepts the safety number as one argument or as
// the twelve groups split by the shell.
func safetyNumberFromArgs(args []string) (domain.SafetyNumber, error) {
	var digits []byte
	for _, a := range args {
		for i := 0; i < len(a); i++ {
			switch c := a[i]; {
			case c >= '0' && c <= '9':
				digits = append(digits, c)
			case c == ' ' || c == '-':
			default:
				return "", fmt.Errorf("safety number contains %q", c)
			}
		}
	}
	want := domain.SafetyNumberGroups * 5
	if len(digits) != want {
		return "", fmt.Errorf("safety number has %d digits, want %d", len(digits), want)
	}
	groups := make([]byte, 0, want+domain.SafetyNumberGroups)
	for i := 0; i < want; i += 5 {
		if i > 0 {
			groups = append(groups, ' ')
		}
		groups = append(groups, digits[i:i+5]...)
	}
	return domain.SafetyNumber(groups), nil
}
