// Package channel bridges Signal traffic to other chat networks.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"signalgate/internal/client"
	"signalgate/internal/domain"
	"signalgate/internal/metrics"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// SignalSender is satisfied by *client.Client.
type SignalSender interface {
	Send(ctx context.Context, req client.SendRequest) (*client.SendResult, error)
}

// botAPI is the part of *tgbotapi.BotAPI the bridge uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram forwards inbound Signal messages to one Telegram chat and lets
// allowed Telegram users send Signal messages with /send.
type Telegram struct {
	token     string
	chatID    int64
	allowFrom []int64 // empty = allow all
	account   string

	bot    botAPI
	signal SignalSender
	logger *slog.Logger
	sleep  func(time.Duration)
}

type TelegramConfig struct {
	Token     string
	ChatID    int64
	AllowFrom []string // user IDs as strings
	Account   string   // shown by /status
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig, signal SignalSender) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		chatID:    cfg.ChatID,
		allowFrom: allowed,
		account:   cfg.Account,
		signal:    signal,
		logger:    cfg.Logger,
		sleep:     time.Sleep,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram, forwards everything published on bus and
// handles updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	go t.Forward(ctx, bus.Subscribe())

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update)
		}
	}
}

// Forward relays inbound Signal messages to the configured chat until the
// channel closes or ctx is done.
func (t *Telegram) Forward(ctx context.Context, inbound <-chan domain.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			if msg.IsReceipt {
				continue
			}
			t.sendMessage(t.chatID, FormatForward(msg))
			metrics.RelayForwarded.Inc()
		}
	}
}

// FormatForward renders a Signal message as "<sender> (device N): <body>".
func FormatForward(m domain.Message) string {
	return fmt.Sprintf("%s (device %d): %s", m.SenderNumber, m.DeviceID, m.Text())
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", update.Message.From.UserName,
		)
		t.sendMessage(chatID, "Unauthorized. Your user ID is not in the allow list.")
		return
	}

	if strings.TrimSpace(update.Message.Text) == "" {
		return
	}
	if !update.Message.IsCommand() {
		t.sendMessage(chatID, "Use /send +NUMBER message to send via Signal. /help lists commands.")
		return
	}
	t.handleCommand(ctx, chatID, update.Message)
}

func (t *Telegram) handleCommand(ctx context.Context, chatID int64, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start", "help":
		t.sendMessage(chatID, "Signal bridge.\n\nIncoming Signal messages are forwarded here.\n\nCommands:\n/send +NUMBER message - send a Signal message\n/status - bridge status\n/help - this message")
	case "status":
		t.sendMessage(chatID, fmt.Sprintf("Signal account: %s\nForwarding to chat: %d\nYour ID: %d", t.account, t.chatID, msg.From.ID))
	case "send":
		t.handleSend(ctx, chatID, msg.CommandArguments())
	default:
		t.sendMessage(chatID, "Unknown command. Type /help for available commands.")
	}
}

func (t *Telegram) handleSend(ctx context.Context, chatID int64, args string) {
	recipient, text, err := ParseSendCommand(args)
	if err != nil {
		t.sendMessage(chatID, err.Error())
		return
	}
	if _, err := t.signal.Send(ctx, client.SendRequest{Body: text, Recipients: []string{recipient}}); err != nil {
		t.logger.Error("signal send from telegram failed", "recipient", recipient, "err", err)
		t.sendMessage(chatID, "Send failed: "+err.Error())
		return
	}
	t.logger.Info("signal message sent from telegram", "recipient", recipient, "text_len", len(text))
	t.sendMessage(chatID, "Sent to "+recipient)
}

// ParseSendCommand splits "/send" arguments into recipient and text.
func ParseSendCommand(args string) (recipient, text string, err error) {
	recipient, text, _ = strings.Cut(strings.TrimSpace(args), " ")
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(recipient, "+") || len(recipient) < 2 {
		return "", "", fmt.Errorf("usage: /send +NUMBER message")
	}
	if _, err := strconv.ParseUint(recipient[1:], 10, 64); err != nil {
		return "", "", fmt.Errorf("invalid number %q", recipient)
	}
	if text == "" {
		return "", "", fmt.Errorf("usage: /send +NUMBER message")
	}
	return recipient, text, nil
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		t.sendChunk(chatID, chunk)
	}
}

// splitMessage cuts text into chunks of at most maxLen bytes, preferring
// to break on a newline in the second half of a chunk.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		cutAt := strings.LastIndex(text[:maxLen], "\n")
		if cutAt < maxLen/2 {
			cutAt = maxLen
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

// sendChunk sends one chunk, backing off on rate limits and transient
// errors.
func (t *Telegram) sendChunk(chatID int64, text string) {
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		_, err := t.bot.Send(tgbotapi.NewMessage(chatID, text))
		if err == nil {
			return
		}
		if attempt == telegramMaxSendRetries {
			t.logger.Error("telegram send failed after retries", "err", err, "attempts", attempt+1)
			return
		}

		backoff := time.Duration(attempt+1) * time.Second
		if errStr := err.Error(); strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			backoff *= 3
			t.logger.Warn("telegram rate limited, backing off", "retry_after", backoff, "attempt", attempt+1)
		} else {
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
		}
		t.sleep(backoff)
	}
}
