package events

import (
	"context"
	"errors"
	"fmt"

	"arbiter/internal/config"
	"arbiter/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier tells admin chats about bookings waiting for approval.
// Other event types are accepted and ignored.
type TelegramNotifier struct {
	sender  telegramSender
	chatIDs []int64
}

func NewTelegramNotifier(cfg config.TelegramConfig) (*TelegramNotifier, error) {
	if cfg.BotToken == "" {
		return nil, errors.New("telegram bot token is required")
	}
	if len(cfg.AdminChatIDs) == 0 {
		return nil, errors.New("telegram admin chat ids are required")
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	botAPI.Debug = cfg.Debug

	return &TelegramNotifier{sender: botAPI, chatIDs: cfg.AdminChatIDs}, nil
}

func (n *TelegramNotifier) Name() string {
	return "telegram"
}

func (n *TelegramNotifier) Deliver(_ context.Context, task *models.OutboxTask) error {
	if task.EventType != EventBookingCreated {
		return nil
	}

	payload, err := DecodePayload(task)
	if err != nil {
		return err
	}

	text := formatPendingBooking(payload)
	var errs []error
	for _, chatID := range n.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = "Markdown"
		if _, err := n.sender.Send(msg); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

func formatPendingBooking(p BookingEventPayload) string {
	return fmt.Sprintf(
		"🆕 *New booking #%d awaits approval*\n\nRoom: %d\nTitle: %s\nFrom: %s\nTo: %s\nUser: %d",
		p.BookingID,
		p.RoomID,
		tgbotapi.EscapeText(tgbotapi.ModeMarkdown, p.Title),
		p.StartTime.UTC().Format("02.01.2006 15:04"),
		p.EndTime.UTC().Format("02.01.2006 15:04"),
		p.UserID,
	)
}
