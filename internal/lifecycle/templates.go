package lifecycle

import (
	"github.com/botfactory/botfactory/internal/database"
	"github.com/botfactory/botfactory/internal/language"
)

type template struct {
	uzbek   string
	russian string
	english string
}

var templates = map[string]template{
	database.EventTrialExpiringSoon: {
		uzbek:   "Diqqat! Sizning bepul sinov muddatingiz 3 kun ichida tugaydi. Bot ishlashini davom etish uchun pullik obunaga o'ting! Pullik obuna afzalliklari: Cheksiz xabarlar, Premium qollab-quvvatlash, Qoshimcha botlar. Obuna bolish uchun: /subscription",
		russian: "Внимание! Ваш бесплатный пробный период заканчивается через 3 дня. Для продолжения работы бота оформите платную подписку! Преимущества платной подписки: Безлимитные сообщения, Премиум поддержка, Дополнительные боты. Для подписки: /subscription",
		english: "Attention! Your free trial expires in 3 days. Subscribe to a paid plan to continue using your bot! Paid subscription benefits: Unlimited messages, Premium support, Additional bots. To subscribe: /subscription",
	},
	database.EventTrialExpired: {
		uzbek:   "Sizning bepul sinovingiz tugadi. Bot vaqtincha toxtatildi. Ishlashini davom etish uchun obuna boling! Obuna bolish uchun: /subscription",
		russian: "Ваш бесплатный пробный период закончился. Бот временно приостановлен. Для продолжения работы оформите подписку! Для подписки: /subscription",
		english: "Your free trial has ended. Your bot is temporarily suspended. Subscribe to continue! To subscribe: /subscription",
	},
	database.EventPaidExpiringSoon: {
		uzbek:   "Sizning obunangiz ertaga tugaydi! Bot ishlashini davom etish uchun tolovni yangilang. Tolov qilish uchun: /subscription",
		russian: "Ваша подписка заканчивается завтра! Обновите платеж для продолжения работы бота. Для оплаты: /subscription",
		english: "Your subscription expires tomorrow! Renew your payment to continue using your bot. To pay: /subscription",
	},
	database.EventPaidExpired: {
		uzbek:   "Sizning obunangiz tugadi. Bot toxtatildi. Qayta faollashtirish uchun tolov qiling! Tolov qilish uchun: /subscription",
		russian: "Ваша подписка истекла. Бот остановлен. Произведите оплату для возобновления! Для оплаты: /subscription",
		english: "Your subscription has expired. Bot is stopped. Make a payment to reactivate! To pay: /subscription",
	},
}

// notificationMessage resolves the localized text for a lifecycle event.
// Unknown languages fall back to Uzbek, the platform default.
func notificationMessage(eventType, lang string) string {
	tpl, ok := templates[eventType]
	if !ok {
		return ""
	}
	switch lang {
	case language.Russian:
		return tpl.russian
	case language.English:
		return tpl.english
	default:
		return tpl.uzbek
	}
}
