// Package filters отсеивает апдейты, которые бот не обрабатывает.
package filters

import (
	"github.com/mymmrac/telego"
	log "github.com/sirupsen/logrus"
)

// ChatFilter пропускает только то, с чем работает платёжный бот:
// личные сообщения от пользователей, нажатия кнопок и pre-checkout.
type ChatFilter struct{}

func NewChatFilter() *ChatFilter {
	return &ChatFilter{}
}

// CheckAccess — обрабатывать ли апдейт.
func (f *ChatFilter) CheckAccess(tokenID int64, update telego.Update) bool {
	logger := log.WithFields(log.Fields{
		"component": "ChatFilter",
		"token_id":  tokenID,
		"update_id": update.UpdateID,
	})

	switch {
	case update.PreCheckoutQuery != nil:
		return true

	case update.CallbackQuery != nil:
		if update.CallbackQuery.From.IsBot {
			logger.Debug("deny: callback from bot")
			return false
		}
		return true

	case update.Message != nil:
		m := update.Message
		if m.From == nil {
			logger.WithField("chat_id", m.Chat.ID).Warn("nil message.From (service/channel message?)")
			return false
		}
		if m.From.IsBot {
			logger.Debug("deny: message from bot")
			return false
		}
		// оплата всегда приходит в личку, но проверяем явно
		if m.Chat.Type != telego.ChatTypePrivate {
			logger.WithFields(log.Fields{
				"chat_id":   m.Chat.ID,
				"chat_type": m.Chat.Type,
			}).Debug("deny: not a private chat")
			return false
		}
		return true
	}

	logger.Debug("deny: unsupported update")
	return false
}
