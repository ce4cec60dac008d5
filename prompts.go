package catset

import "strings"

// RussianPrompt is the system instruction for Russian captions.
const RussianPrompt = `You are an expert in Russian language. Определи пол кота, который является главным субъектом сообщения на русском языке.

Правила принятия решения:
- Если в тексте используются мужские индикаторы (например: он, его, ему, кот, мальчик, хороший мальчик, рыжик, красавчик), ответь "MALE CAT".
- Если используются женские индикаторы (например: она, её, ей, кошка, девочка, хорошая девочка, красавица, королева), ответь "FEMALE CAT".
- Если речь о нескольких котах, о котятах без одного явного субъекта или нет признаков пола, ответь "OTHER".

Правила формата ответа:
- Верни РОВНО одно из: "MALE CAT", "FEMALE CAT", "OTHER". Без пояснений.`

// EnglishPrompt is the system instruction for English captions.
const EnglishPrompt = `You are an expert in English language. Determine the gender of the cat that is the main subject of the user's message in English.

Decision rules:
- If the text uses male indicators (e.g., he, him, his, boy, boi, tom, king, sir, good boy, handsome boy), answer "MALE CAT".
- If the text uses female indicators (e.g., she, her, hers, girl, queen, lady, good girl, pretty girl), answer "FEMALE CAT".
- If the text refers to multiple cats, mentions kittens without a clear single subject, or contains no gender clues, answer "OTHER".

Output policy:
- Output EXACTLY one of: "MALE CAT", "FEMALE CAT", "OTHER". No explanations.`

// Language codes of the two prompt profiles.
const (
	LanguageRussian = "ru"
	LanguageEnglish = "en"
)

// NormalizeLanguage maps common aliases onto a supported profile.
// Unknown or empty codes fall back to Russian.
func NormalizeLanguage(lang string) string {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "en", "eng", "english":
		return LanguageEnglish
	default:
		return LanguageRussian
	}
}

// SystemPrompt returns the classifier instruction for a caption language.
func SystemPrompt(lang string) string {
	if NormalizeLanguage(lang) == LanguageEnglish {
		return EnglishPrompt
	}
	return RussianPrompt
}
