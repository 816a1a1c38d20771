package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/polypulse/pulse/internal/store"
)

// Operator mirrors whale and price alerts to a Telegram ops chat. This is a
// monitoring channel for whoever runs the daemon, separate from user push
// notifications.
type Operator struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewOperator connects the bot. Returns an error if the token is rejected.
func NewOperator(token string, chatID int64) (*Operator, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram operator channel connected")
	return &Operator{api: api, chatID: chatID}, nil
}

// NotifyWhale posts one whale trade to the ops chat.
func (o *Operator) NotifyWhale(w store.WhaleTrade, question string) {
	text := fmt.Sprintf("🐋 *Whale trade*\n%s\n%s %s · $%s\n`%s`",
		question, w.Side, w.Outcome, w.Value.StringFixed(0), w.Wallet)
	o.send(text)
}

// NotifyAlert posts one price alert to the ops chat.
func (o *Operator) NotifyAlert(a store.Alert) {
	text := fmt.Sprintf("🚨 *Price alert*\n%s\n%s: %s → %s (%s)",
		a.Question, a.Outcome,
		a.OldPrice.StringFixed(2), a.NewPrice.StringFixed(2), a.Change.StringFixed(2))
	o.send(text)
}

func (o *Operator) send(text string) {
	if o == nil || o.chatID == 0 {
		return
	}
	msg := tgbotapi.NewMessage(o.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := o.api.Send(msg); err != nil {
		log.Warn().Err(err).Msg("Telegram send failed")
	}
}
