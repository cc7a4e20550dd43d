package bot

import (
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"serotonyl.ru/stars-bot/internal/features/pricing"
	"serotonyl.ru/stars-bot/internal/i18n"
)

const topupPrefix = "topup_"

// TopupData — callback_data кнопки пополнения.
func TopupData(credits int64) string {
	return topupPrefix + strconv.FormatInt(credits, 10)
}

// ParseTopupData возвращает число кредитов из callback_data; false: не наша кнопка или мусор.
func ParseTopupData(data string) (int64, bool) {
	if !strings.HasPrefix(data, topupPrefix) {
		return 0, false
	}
	credits, err := strconv.ParseInt(strings.TrimPrefix(data, topupPrefix), 10, 64)
	if err != nil || credits <= 0 {
		return 0, false
	}
	return credits, true
}

// TopupKeyboard — по кнопке на каждый пресет, в один столбец.
func TopupKeyboard(lang string, presets []pricing.Preset) *telego.InlineKeyboardMarkup {
	rows := make([][]telego.InlineKeyboardButton, 0, len(presets))
	for _, p := range presets {
		text := i18n.T(lang, i18n.TopupButton,
			strconv.FormatInt(p.Stars, 10),
			strconv.FormatInt(p.USD, 10),
			strconv.FormatInt(p.Credits, 10),
		)
		rows = append(rows, tu.InlineKeyboardRow(
			tu.InlineKeyboardButton(text).WithCallbackData(TopupData(p.Credits)),
		))
	}
	return tu.InlineKeyboard(rows...)
}

// PaymentMenuKeyboard — постоянная кнопка «Меню оплаты».
func PaymentMenuKeyboard(lang string) *telego.ReplyKeyboardMarkup {
	return tu.Keyboard(
		tu.KeyboardRow(tu.KeyboardButton(i18n.T(lang, i18n.BtnPaymentMenu))),
	).WithResizeKeyboard()
}

// PayKeyboard — кнопка со ссылкой на счёт.
func PayKeyboard(lang, invoiceLink string) *telego.InlineKeyboardMarkup {
	return tu.InlineKeyboard(
		tu.InlineKeyboardRow(tu.InlineKeyboardButton(i18n.T(lang, i18n.BtnPay)).WithURL(invoiceLink)),
	)
}
