package gemini

import (
	"fmt"
	"strings"

	"github.com/botfactory/botfactory/internal/language"
)

// ReplySystemInstruction is the skeleton of the system instruction assembled
// per request. The format string expects: custom prompt, bot identity block,
// language directive, and serialized knowledge section.
const ReplySystemInstruction = `%s

%s

IMPORTANT LANGUAGE RULE: %s

IMPORTANT FORMATTING RULES:
- Use emojis to make your responses friendly and engaging 😊
- NEVER use markdown symbols like *, **, ___, or ~~~ in your responses
- Use emojis instead of formatting symbols to emphasize points
- Keep responses clean and readable without any markdown formatting
- Use line breaks and emojis for better visual presentation

Please respond helpfully and naturally to user messages.
If you have relevant information in your knowledge base, use it to provide accurate answers.
If you don't know something, be honest about it.
%s`

// Per-language reply directives. Selected preferences get the strict variant;
// auto mirrors the inbound message.
const (
	directiveUzbek = `MAJBURIY QOIDA - ENG MUHIM:
- Barcha javoblaringizni FAQAT O'ZBEK TILIDA yozing
- Hech qanday ingliz, rus yoki boshqa tilda so'z ishlatmang
- Lotin yozuvidan foydalaning
- Agar tushunmasangiz ham, o'zbek tilida javob bering
- Bu eng muhim qoida - hech qachon buzilmasligi kerak`

	directiveRussian = `ОБЯЗАТЕЛЬНОЕ ПРАВИЛО - САМОЕ ВАЖНОЕ:
- Отвечайте ТОЛЬКО НА РУССКОМ ЯЗЫКЕ
- Не используйте английские, узбекские или другие слова
- Даже если не понимаете, отвечайте на русском
- Это самое важное правило - никогда не нарушайте его`

	directiveEnglish = `MANDATORY RULE - MOST IMPORTANT:
- Respond ONLY in ENGLISH language
- Do not use Russian, Uzbek or other language words
- Even if you don't understand, respond in English
- This is the most important rule - never break it`

	directiveAuto = "Respond in the same language as the user's message. " +
		"If the message is in Uzbek, respond in Uzbek. If in Russian, respond in Russian. If in English, respond in English."
)

// SentimentPrompt asks for a one-word sentiment classification.
const SentimentPrompt = `Analyze the sentiment of this message and respond with just one word: positive, negative, or neutral.

Message: %s`

// SummaryPrompt asks for a short conversation summary.
const SummaryPrompt = `Summarize this conversation in 2-3 sentences, focusing on the main topics discussed:

%s`

// languageDirective maps a resolved language code to a reply directive.
func languageDirective(lang string) string {
	switch lang {
	case language.Uzbek:
		return directiveUzbek
	case language.Russian:
		return directiveRussian
	case language.English:
		return directiveEnglish
	default:
		return directiveAuto
	}
}

// buildSystemInstruction assembles the full system instruction for a reply
// request.
func buildSystemInstruction(req ReplyRequest) string {
	var identity strings.Builder
	identity.WriteString(fmt.Sprintf("You are a chatbot named %q.", req.BotName))
	if req.BotDescription != "" {
		identity.WriteString("\nDescription: " + req.BotDescription)
	}

	return fmt.Sprintf(ReplySystemInstruction,
		req.SystemPrompt,
		identity.String(),
		languageDirective(req.Language),
		buildKnowledgeSection(req.Knowledge))
}

// buildKnowledgeSection serializes knowledge entries, including media hints so
// the model knows which topics carry an image.
func buildKnowledgeSection(entries []KnowledgeItem) string {
	if len(entries) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("\nKnowledge Base:\n")
	for _, entry := range entries {
		sb.WriteString(fmt.Sprintf("- %s: %s", entry.Title, entry.Content))
		if entry.ImageURL != "" {
			sb.WriteString("\n  📸 Product Image: " + entry.ImageURL)
			if entry.ImageCaption != "" {
				sb.WriteString("\n  📝 Image Caption: " + entry.ImageCaption)
			}
			sb.WriteString("\n  💡 Note: You can send this image to users when they ask about this topic")
		}
		sb.WriteString("\n\n")
	}
	return sb.String()
}
