// Package langdetect identifies the source language of transcribed text.
package langdetect

import (
	"strings"
	"sync"

	"github.com/pemistahl/lingua-go"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Auto is returned when the language cannot be determined.
const Auto = "auto"

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// candidates covers the languages the app realistically encounters. A
// smaller set keeps detection fast and far more accurate than the full
// lingua corpus.
var candidates = []lingua.Language{
	lingua.English,
	lingua.Hindi,
	lingua.Tamil,
	lingua.Telugu,
	lingua.Kannada,
	lingua.Arabic,
	lingua.French,
	lingua.German,
	lingua.Spanish,
	lingua.Portuguese,
	lingua.Chinese,
	lingua.Japanese,
	lingua.Korean,
	lingua.Russian,
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(candidates...).
			WithPreloadedLanguageModels().
			Build()
	})
	return detector
}

// Detect returns the ISO 639-1 code of the most likely language of text,
// or Auto when text is blank or undeterminable.
func Detect(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return Auto
	}
	// lingua does not model Malayalam; the script is unambiguous anyway.
	if containsMalayalam(text) {
		return "ml"
	}
	lang, ok := getDetector().DetectLanguageOf(text)
	if !ok {
		return Auto
	}
	return strings.ToLower(lang.IsoCode639_1().String())
}

// Name returns the English display name for an ISO 639-1 code.
// Unknown or auto codes come back as "Auto".
func Name(code string) string {
	if code == "" || code == Auto {
		return "Auto"
	}
	tag, err := language.Parse(code)
	if err != nil {
		return "Auto"
	}
	name := display.English.Languages().Name(tag)
	if name == "" {
		return "Auto"
	}
	return name
}

// containsMalayalam reports whether text has any code point in the
// Malayalam Unicode block (U+0D00 to U+0D7F).
func containsMalayalam(text string) bool {
	for _, r := range text {
		if r >= 0x0D00 && r <= 0x0D7F {
			return true
		}
	}
	return false
}
