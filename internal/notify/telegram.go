package notify

import (
	"context"

	"autopunch/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Sender is the slice of the Telegram bot API the notifier needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier pushes outcome messages to the owner's chat. Delivery is
// best-effort; a failed push never affects the task.
type TelegramNotifier struct {
	sender   Sender
	bindings domain.BindingRepository
	logger   *zerolog.Logger
}

func NewTelegramNotifier(sender Sender, bindings domain.BindingRepository, logger *zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		sender:   sender,
		bindings: bindings,
		logger:   logger,
	}
}

func (n *TelegramNotifier) Notify(ctx context.Context, userID int64, message string) error {
	binding, err := n.bindings.GetBindingByID(ctx, userID)
	if err != nil {
		return err
	}
	if binding.ChatID == 0 {
		return nil
	}

	if _, err := n.sender.Send(tgbotapi.NewMessage(binding.ChatID, message)); err != nil {
		n.logger.Warn().Err(err).Int64("chat_id", binding.ChatID).Msg("Failed to send notification")
		return err
	}
	return nil
}

// NoopNotifier is used when no push transport is configured.
type NoopNotifier struct{}

func (NoopNotifier) Notify(ctx context.Context, userID int64, message string) error {
	return nil
}
