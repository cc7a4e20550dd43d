// Package middleware содержит промежуточные обработчики апдейтов:
// логирование, восстановление после паники и rate-limiting.
package middleware

import (
	"github.com/mymmrac/telego"
	log "github.com/sirupsen/logrus"
)

// maxLoggedText — сколько символов текста попадает в лог.
const maxLoggedText = 50

// LogUpdate логирует входящий апдейт: тип, пользователя и начало текста.
func LogUpdate(tokenID int64, update telego.Update) {
	fields := log.Fields{
		"token_id":  tokenID,
		"update_id": update.UpdateID,
	}

	switch {
	case update.PreCheckoutQuery != nil:
		q := update.PreCheckoutQuery
		fields["kind"] = "pre_checkout_query"
		fields["user_id"] = q.From.ID
		fields["payload"] = q.InvoicePayload
		fields["total_amount"] = q.TotalAmount

	case update.Message != nil && update.Message.SuccessfulPayment != nil:
		m := update.Message
		fields["kind"] = "successful_payment"
		fields["chat_id"] = m.Chat.ID
		fields["payload"] = m.SuccessfulPayment.InvoicePayload
		fields["total_amount"] = m.SuccessfulPayment.TotalAmount
		if m.From != nil {
			fields["user_id"] = m.From.ID
		}

	case update.Message != nil:
		m := update.Message
		fields["kind"] = "message"
		fields["chat_id"] = m.Chat.ID
		fields["text"] = truncate(m.Text)
		if m.From != nil {
			fields["user_id"] = m.From.ID
			fields["username"] = m.From.Username
		}

	case update.CallbackQuery != nil:
		fields["kind"] = "callback_query"
		fields["user_id"] = update.CallbackQuery.From.ID
		fields["data"] = update.CallbackQuery.Data

	default:
		fields["kind"] = "other"
	}

	log.WithFields(fields).Debug("Входящий апдейт")
}

func truncate(text string) string {
	r := []rune(text)
	if len(r) > maxLoggedText {
		return string(r[:maxLoggedText]) + "..."
	}
	return text
}
