// Package language provides reply-language resolution for the dispatch
// pipeline: keyword/script heuristics, media-intent detection, and a cached
// per-participant preference layer.
package language

import "strings"

// Supported reply languages. Auto mirrors the language of the inbound message.
const (
	Uzbek   = "uz"
	Russian = "ru"
	English = "en"
	Auto    = "auto"
)

// Detector guesses the reply language for a message when the participant has
// no stored preference.
type Detector interface {
	Detect(text string) string
}

// Common words used to score a message as Uzbek or Russian. Cyrillic script
// alone counts toward Russian unless Uzbek words dominate.
var (
	uzbekWords = []string{
		"salom", "assalomu", "alaykum", "rahmat", "yaxshi", "qanday", "nima",
		"kim", "qachon", "qayer", "nega", "qancha", "bormi", "yoq", "ha",
		"men", "sen", "biz", "siz", "ular", "bu", "shu", "o'sha", "kimsiz", "nimalar",
	}
	russianWords = []string{
		"привет", "здравствуй", "спасибо", "как", "что", "где", "когда",
		"почему", "сколько", "да", "нет", "я", "ты", "мы", "вы", "они", "это",
	}
)

// KeywordDetector scores text against Uzbek/Russian word lists and the
// Cyrillic script range.
type KeywordDetector struct{}

// NewDetector returns the default keyword-based detector.
func NewDetector() Detector {
	return KeywordDetector{}
}

// Detect returns Uzbek, Russian or Auto. Ties and texts matching neither
// heuristic fall through to Auto so the reply mirrors the input.
func (KeywordDetector) Detect(text string) string {
	lower := strings.ToLower(text)

	uzbekCount := 0
	for _, w := range uzbekWords {
		if strings.Contains(lower, w) {
			uzbekCount++
		}
	}
	russianCount := 0
	for _, w := range russianWords {
		if strings.Contains(lower, w) {
			russianCount++
		}
	}

	cyrillicCount := 0
	for _, r := range text {
		if r >= 0x0400 && r <= 0x04FF {
			cyrillicCount++
		}
	}

	switch {
	case uzbekCount > 0 || cyrillicCount > 0:
		if uzbekCount > russianCount {
			return Uzbek
		}
		return Russian
	case russianCount > 0:
		return Russian
	default:
		return Auto
	}
}

// Keywords that signal the user wants to see an image.
var mediaKeywords = []string{
	"rasm", "surat", "rasmini", "picture", "image", "photo", "show me", "ko'rsat",
	"qanday ko'rinadi", "ko'rsating", "фото", "картинка", "покажи", "как выглядит",
}

// WantsMedia reports whether the text contains a show-me keyword.
func WantsMedia(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range mediaKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// MatchesTopic reports whether the user text shares a token longer than three
// characters with the entry title or content. Used to pick which knowledge
// entry's image to attach.
func MatchesTopic(userText, entryTitle, entryContent string) bool {
	lower := strings.ToLower(userText)
	tokens := strings.Fields(strings.ToLower(entryTitle))
	tokens = append(tokens, strings.Fields(strings.ToLower(entryContent))...)
	for _, tok := range tokens {
		if len(tok) > 3 && strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}
