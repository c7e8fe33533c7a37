package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"
)

// telegramMaxText - ограничение Telegram на длину сообщения.
const telegramMaxText = 4096

// Sender - часть API бота, которая нужна для оповещений.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// Telegram отправляет оповещения в один чат с ограничением частоты.
type Telegram struct {
	sender  Sender
	chatID  int64
	limiter *rate.Limiter
}

// NewTelegram создаёт получателя. perSecond <= 0 отключает ограничение частоты.
func NewTelegram(sender Sender, chatID int64, perSecond float64) *Telegram {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Telegram{sender: sender, chatID: chatID, limiter: rate.NewLimiter(limit, 1)}
}

// NewTelegramBot создаёт клиента Bot API без запроса getMe при старте.
func NewTelegramBot(token string, log *slog.Logger) (*bot.Bot, error) {
	return bot.New(token,
		bot.WithSkipGetMe(),
		bot.WithErrorsHandler(func(err error) {
			log.Warn("telegram bot error", "error", err)
		}),
	)
}

// Send реализует Notifier. Ждёт разрешения лимитера, пока жив ctx.
func (t *Telegram) Send(ctx context.Context, title, body string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram rate limit: %w", err)
	}

	text := title
	if body != "" {
		text += "\n\n" + body
	}
	if r := []rune(text); len(r) > telegramMaxText {
		text = string(r[:telegramMaxText-1]) + "…"
	}

	_, err := t.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: t.chatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
