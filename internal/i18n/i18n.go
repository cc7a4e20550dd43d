// Package i18n — тексты бота на ru / en / zh.
// Неизвестный язык → русский, отсутствующий ключ → русский текст, потом сам ключ.
package i18n

import (
	"strings"

	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/ru"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	log "github.com/sirupsen/logrus"
)

// DefaultLang — язык по умолчанию.
const DefaultLang = "ru"

// Ключи сообщений
const (
	BtnPay                  = "btn_pay"
	BtnPaymentMenu          = "btn_payment_menu"
	InvoiceTitle            = "payment_invoice_title"
	InvoiceDescription      = "payment_invoice_description"
	InvoiceLabel            = "payment_invoice_label"
	Welcome                 = "stars_bot_welcome"
	WelcomeInline           = "stars_bot_welcome_inline"
	TopupButton             = "topup_button"
	PaymentCreated          = "stars_bot_payment_created"
	PaymentError            = "stars_bot_payment_error"
	InvalidPayload          = "stars_bot_invalid_payload"
	PaymentNotFound         = "stars_bot_payment_not_found"
	PaymentAlreadyProcessed = "stars_bot_payment_already_processed"
	PaymentErrorGeneric     = "stars_bot_payment_error_generic"
	PaymentSuccess          = "stars_bot_payment_success"
	RateLimited             = "stars_bot_rate_limited"
)

// Параметры подставляются позиционно: {0}, {1}, ...
var texts = map[string]map[string]string{
	"ru": {
		BtnPay:                  "💳 Оплатить звездами",
		BtnPaymentMenu:          "💎 Меню оплаты",
		InvoiceTitle:            "Пополнение баланса на {0} кредитов",
		InvoiceDescription:      "Оплата {0} кредитов через Telegram Stars",
		InvoiceLabel:            "{0} кредитов",
		Welcome:                 "⭐ <b>Добро пожаловать в бот для оплаты звездами!</b>",
		WelcomeInline:           "💎 Выберите удобную сумму пополнения ниже:\n\n✨ Все платежи безопасны и обрабатываются через Telegram Stars",
		TopupButton:             "⭐ {0} звезд • ${1} • {2} токенов",
		PaymentCreated:          "💳 <b>Платеж готов к оплате!</b>\n\n📊 <b>Детали:</b>\n💰 Вы получите: <b>{0} кредитов</b>\n⭐ К оплате: <b>{1} звезд</b>\n\n👇 Нажмите кнопку ниже для оплаты:",
		PaymentError:            "Ошибка создания платежной ссылки для платежа {0}. Попробуйте позже.",
		InvalidPayload:          "Неверный payload платежа",
		PaymentNotFound:         "Платеж не найден",
		PaymentAlreadyProcessed: "Платеж уже обработан",
		PaymentErrorGeneric:     "Ошибка обработки платежа",
		PaymentSuccess:          "🎉 <b>Оплата успешна!</b>\n\n✅ Вам начислено: <b>{0} кредитов</b>\n⭐ Оплачено: <b>{1} звезд</b>\n\n💚 Спасибо за использование нашего сервиса!",
		RateLimited:             "⏳ Слишком много запросов, попробуйте через минуту",
	},
	"en": {
		BtnPay:                  "💳 Pay with Stars",
		BtnPaymentMenu:          "💎 Payment Menu",
		InvoiceTitle:            "Top up balance for {0} credits",
		InvoiceDescription:      "Payment for {0} credits via Telegram Stars",
		InvoiceLabel:            "{0} credits",
		Welcome:                 "⭐ <b>Welcome to the Stars Payment Bot!</b>",
		WelcomeInline:           "💎 Select your preferred top-up amount below:\n\n✨ All payments are secure and processed via Telegram Stars",
		TopupButton:             "⭐ {0} stars • ${1} • {2} tokens",
		PaymentCreated:          "💳 <b>Payment ready!</b>\n\n📊 <b>Details:</b>\n💰 You will receive: <b>{0} credits</b>\n⭐ To pay: <b>{1} stars</b>\n\n👇 Click the button below to pay:",
		PaymentError:            "Error creating payment link for payment {0}. Please try again later.",
		InvalidPayload:          "Invalid payment payload",
		PaymentNotFound:         "Payment not found",
		PaymentAlreadyProcessed: "Payment already processed",
		PaymentErrorGeneric:     "Error processing payment",
		PaymentSuccess:          "🎉 <b>Payment successful!</b>\n\n✅ You received: <b>{0} credits</b>\n⭐ Paid: <b>{1} stars</b>\n\n💚 Thank you for using our service!",
		RateLimited:             "⏳ Too many requests, try again in a minute",
	},
	"zh": {
		BtnPay:                  "💳 使用星币支付",
		BtnPaymentMenu:          "💎 支付菜单",
		InvoiceTitle:            "充值 {0} 积分",
		InvoiceDescription:      "通过 Telegram 星币 支付 {0} 积分",
		InvoiceLabel:            "{0} 积分",
		Welcome:                 "⭐ <b>欢迎使用星币支付机器人！</b>",
		WelcomeInline:           "💎 请在下方选择您喜欢的充值金额：\n\n✨ 所有支付均安全，通过 Telegram 星币处理",
		TopupButton:             "⭐ {0} 星币 • ${1} • {2} 代币",
		PaymentCreated:          "💳 <b>付款已准备就绪！</b>\n\n📊 <b>详情：</b>\n💰 您将获得：<b>{0} 积分</b>\n⭐ 需支付：<b>{1} 星币</b>\n\n👇 点击下方按钮进行支付：",
		PaymentError:            "为付款 {0} 创建支付链接时出错。请稍后再试。",
		InvalidPayload:          "无效的付款 payload",
		PaymentNotFound:         "未找到付款",
		PaymentAlreadyProcessed: "付款已处理",
		PaymentErrorGeneric:     "处理付款时出错",
		PaymentSuccess:          "🎉 <b>支付成功！</b>\n\n✅ 您获得：<b>{0} 积分</b>\n⭐ 已支付：<b>{1} 星币</b>\n\n💚 感谢使用我们的服务！",
		RateLimited:             "⏳ 请求过多，请一分钟后再试",
	},
}

var uni = newUniversal()

func newUniversal() *ut.UniversalTranslator {
	u := ut.New(ru.New(), ru.New(), en.New(), zh.New())
	for lang, msgs := range texts {
		trans, found := u.GetTranslator(lang)
		if !found {
			log.WithField("lang", lang).Error("i18n: локаль не зарегистрирована")
			continue
		}
		for key, text := range msgs {
			if err := trans.Add(key, text, false); err != nil {
				log.WithError(err).WithFields(log.Fields{"lang": lang, "key": key}).Error("i18n: не удалось добавить перевод")
			}
		}
	}
	return u
}

// Supported — есть ли у нас тексты на этом языке.
func Supported(lang string) bool {
	_, ok := texts[lang]
	return ok
}

// Normalize приводит язык к поддерживаемому: "en-US" → "en", "de" → "ru".
func Normalize(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	if Supported(lang) {
		return lang
	}
	return DefaultLang
}

// T возвращает текст key на языке lang с подставленными параметрами.
func T(lang, key string, params ...string) string {
	trans, _ := uni.GetTranslator(Normalize(lang))
	if s, err := trans.T(key, params...); err == nil {
		return s
	}
	fallback, _ := uni.GetTranslator(DefaultLang)
	if s, err := fallback.T(key, params...); err == nil {
		return s
	}
	return key
}
