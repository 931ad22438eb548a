package dispatch

import (
	"fmt"

	"github.com/botfactory/botfactory/internal/language"
	"github.com/botfactory/botfactory/internal/telegram"
)

// Callback data for the language-selection keyboard.
const (
	callbackLangUzbek      = "lang_uz"
	callbackLangRussian    = "lang_ru"
	callbackLangEnglish    = "lang_en"
	callbackChangeLanguage = "change_language"
)

func languageButtons() [][]telegram.Button {
	return [][]telegram.Button{
		{{Text: "🇺🇿 O'zbek", CallbackData: callbackLangUzbek}},
		{{Text: "🇷🇺 Русский", CallbackData: callbackLangRussian}},
		{{Text: "🇬🇧 English", CallbackData: callbackLangEnglish}},
	}
}

func changeLanguageButton() [][]telegram.Button {
	return [][]telegram.Button{
		{{Text: "🌐 Tilni o'zgartirish / Сменить язык / Change Language", CallbackData: callbackChangeLanguage}},
	}
}

// languagePrompt is the trilingual first-contact prompt shown with the
// language keyboard.
func languagePrompt(firstName, botName string) string {
	return "🌐 Tilni tanlang / Выберите язык / Choose Language\n\n" +
		fmt.Sprintf("🇺🇿 Salom %s! Men %s botiman.\n", firstName, botName) +
		fmt.Sprintf("🇷🇺 Привет %s! Я бот %s.\n", firstName, botName) +
		fmt.Sprintf("🇬🇧 Hello %s! I'm %s bot.\n\n", firstName, botName) +
		"👇 Muloqot uchun tilni tanlang:"
}

// welcomeMessage greets a participant in their language. Unknown languages
// fall back to Uzbek, the platform default.
func welcomeMessage(firstName, botName, lang string) string {
	switch lang {
	case language.Russian:
		return fmt.Sprintf("🎉 Привет %s! 👋\n\n✨ Я бот %s. Как я могу вам помочь?\n\n"+
			"💬 Отправьте мне ваш вопрос, и я отвечу!\n\n"+
			"🔄 Чтобы изменить язык, отправьте команду /start снова.", firstName, botName)
	case language.English:
		return fmt.Sprintf("🎉 Hello %s! 👋\n\n✨ I'm %s bot. How can I help you?\n\n"+
			"💬 Send me your question and I'll respond!\n\n"+
			"🔄 To change language, send /start command again.", firstName, botName)
	default:
		return fmt.Sprintf("🎉 Salom %s! 👋\n\n✨ Men %s botiman. Sizga qanday yordam bera olaman?\n\n"+
			"💬 Menga savolingizni yuboring va men sizga javob beraman!\n\n"+
			"🔄 Tilni o'zgartirish uchun /start buyrug'ini qayta yuboring.", firstName, botName)
	}
}

// welcomeWithChangeOption appends the current-language footer shown to known
// participants on /start.
func welcomeWithChangeOption(firstName, botName, lang string) string {
	msg := welcomeMessage(firstName, botName, lang)

	langNames := map[string]string{
		language.Uzbek:   "O'zbek",
		language.Russian: "Русский",
		language.English: "English",
	}
	name, ok := langNames[lang]
	if !ok {
		name = "O'zbek"
	}

	switch lang {
	case language.Russian:
		return msg + fmt.Sprintf("\n\n🔄 Текущий язык: %s\nДля смены языка нажмите кнопку ниже:", name)
	case language.English:
		return msg + fmt.Sprintf("\n\n🔄 Current language: %s\nTo change language, press the button below:", name)
	default:
		return msg + fmt.Sprintf("\n\n🔄 Hozirgi til: %s\nTilni o'zgartirish uchun quyidagi tugmani bosing:", name)
	}
}

func selectionCompleted(lang string) string {
	switch lang {
	case language.Russian:
		return "Выбор сделан! ✅"
	case language.English:
		return "Selection completed! ✅"
	default:
		return "Tanlov amalga oshirildi! ✅"
	}
}

// fallbackReply is sent whenever the AI backend fails or times out.
func fallbackReply(lang string) string {
	switch lang {
	case language.Russian:
		return "Извините, не могу ответить сейчас. Попробуйте позже."
	case language.English:
		return "Sorry, I can't respond right now. Please try again later."
	default:
		return "Kechirasiz, hozir javob bera olmayman. Keyinroq qaytib urinib ko'ring."
	}
}

func errorReply(lang string) string {
	switch lang {
	case language.Russian:
		return "Извините, произошла ошибка."
	case language.English:
		return "Sorry, an error occurred."
	default:
		return "Kechirasiz, xatolik yuz berdi."
	}
}

func helpMessage(botName, lang string) string {
	switch lang {
	case language.Russian:
		return fmt.Sprintf("ℹ️ %s - Помощь\n\n📋 Как использовать:\n"+
			"💬 Отправьте мне обычное сообщение\n🤖 Я отвечу вам\n"+
			"🔄 /start - Перезапустить бота\n❓ /help - Показать это сообщение помощи\n\n"+
			"🙋‍♂️ Есть вопросы? Пишите мне! 😊", botName)
	case language.English:
		return fmt.Sprintf("ℹ️ %s - Help\n\n📋 How to use:\n"+
			"💬 Send me a regular text message\n🤖 I will respond to you\n"+
			"🔄 /start - Restart the bot\n❓ /help - Show this help message\n\n"+
			"🙋‍♂️ Have questions? Write to me! 😊", botName)
	default:
		return fmt.Sprintf("ℹ️ %s - Yordam\n\n📋 Qanday foydalanish:\n"+
			"💬 Menga oddiy matn yuboring\n🤖 Men sizga javob beraman\n"+
			"🔄 /start - Botni qayta ishga tushirish\n❓ /help - Bu yordam habarini ko'rish\n\n"+
			"🙋‍♂️ Savollar bormi? Menga yozing! 😊", botName)
	}
}
