package models

import "strings"

// whisperMultilingualLanguages mirrors the original probe's curated fallback
// table (loquilex/capabilities/asr.py _fallback_languages): a hand
// maintained table is unavoidable here since no example repo in this
// codebase's dependency pack ships a Whisper/NLLB language table as a
// library, and probing real model weights is explicitly out of scope
// (spec.md §1 treats ML internals as a non-goal).
var whisperMultilingualLanguages = []string{
	"ar", "de", "en", "es", "fr", "hi", "it", "ja", "ko", "nl",
	"pl", "pt", "ru", "tr", "uk", "vi", "zh-Hans",
}

// nllbSupportedLanguages is a small curated subset of NLLB-200's
// supported BCP-47-ish target languages, standing in for the original's
// reliance on the MT model's own tokenizer vocabulary.
var nllbSupportedLanguages = []string{
	"zho_Hans", "zho_Hant", "spa_Latn", "fra_Latn", "deu_Latn",
	"jpn_Jpan", "kor_Hang", "rus_Cyrl", "por_Latn", "arb_Arab",
}

// ProbeASR reports the capabilities of a named ASR model. English-only
// models (suffixed ".en") report only "en"; everything else reports the
// curated multilingual subset. supports_auto is always true, matching
// the original's behavior for every Whisper-family model including its
// error fallback path.
func ProbeASR(modelName string) Capabilities {
	if strings.HasSuffix(modelName, ".en") {
		return Capabilities{
			Kind:         "asr",
			Model:        modelName,
			SupportsAuto: true,
			Languages:    []string{"en"},
			Tokens:       map[string]string{"en": "<|en|>"},
		}
	}

	tokens := make(map[string]string, len(whisperMultilingualLanguages))
	for _, lang := range whisperMultilingualLanguages {
		code := lang
		if idx := strings.IndexByte(lang, '-'); idx >= 0 {
			code = lang[:idx]
		}
		tokens[lang] = "<|" + code + "|>"
	}
	return Capabilities{
		Kind:         "asr",
		Model:        modelName,
		SupportsAuto: true,
		Languages:    append([]string(nil), whisperMultilingualLanguages...),
		Tokens:       tokens,
	}
}

// MTLanguages returns the destination languages a given MT model id is
// assumed to support. Every model id, known or not, gets the same NLLB
// subset, since the non-goal boundary (spec.md §1) precludes a real tokenizer probe.
func MTLanguages(modelID string) []string {
	return append([]string(nil), nllbSupportedLanguages...)
}
