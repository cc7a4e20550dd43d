package bot

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mymmrac/telego"

	"serotonyl.ru/stars-bot/internal/common"
	"serotonyl.ru/stars-bot/internal/features/payments"
	"serotonyl.ru/stars-bot/internal/i18n"
)

// InvoiceLink создаёт ссылку на оплату звёздами для уже созданного платежа.
func InvoiceLink(ctx context.Context, api API, currency, lang string, topUp *payments.TopUp) (string, error) {
	credits := strconv.FormatInt(topUp.Credits, 10)
	link, err := api.CreateInvoiceLink(ctx, &telego.CreateInvoiceLinkParams{
		Title:       i18n.T(lang, i18n.InvoiceTitle, credits),
		Description: i18n.T(lang, i18n.InvoiceDescription, credits),
		Payload:     topUp.Payload,
		Currency:    currency,
		Prices: []telego.LabeledPrice{
			{Label: i18n.T(lang, i18n.InvoiceLabel, credits), Amount: int(topUp.Stars)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("ошибка создания invoice link для платежа %d: %w", topUp.PaymentID, err)
	}
	if link == nil || *link == "" {
		return "", fmt.Errorf("пустой invoice link для платежа %d", topUp.PaymentID)
	}
	return *link, nil
}

// Invoicer выставляет счёт через бота, закреплённого за платежом.
// Нужен HTTP-API пополнения, где апдейта от Telegram нет.
type Invoicer struct {
	sessions Sessions
	users    Users
	currency string
}

func NewInvoicer(sessions Sessions, users Users, currency string) *Invoicer {
	if currency == "" {
		currency = "XTR"
	}
	return &Invoicer{sessions: sessions, users: users, currency: currency}
}

// Link — ссылка на оплату на языке пользователя.
func (i *Invoicer) Link(ctx context.Context, topUp *payments.TopUp) (string, error) {
	if topUp.TokenID == 0 {
		return "", fmt.Errorf("платёж %d: %w", topUp.PaymentID, common.ErrNoActiveTokens)
	}
	s, err := i.sessions.Get(ctx, topUp.TokenID)
	if err != nil {
		return "", err
	}
	return InvoiceLink(ctx, s.API, i.currency, i.users.Lang(ctx, topUp.UserID), topUp)
}
