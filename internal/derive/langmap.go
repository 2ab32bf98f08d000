package derive

// languageTagMap maps the ISO 639-2 codes ffprobe reports in a stream's
// "language" tag to the BCP-47 prefix used for the subtitle_vtt subpath
// and matched against an offline task's configured subtitle languages
// (spec section 4.H). Deliberately non-exhaustive — spec section 9 calls
// out broader BCP-47 coverage as an open TODO rather than a requirement.
var languageTagMap = map[string]string{
	"eng": "en",
	"spa": "es",
	"fra": "fr",
	"fre": "fr",
	"deu": "de",
	"ger": "de",
	"jpn": "ja",
	"zho": "zh-Hans",
	"chi": "zh-Hans",
	"por": "pt-BR",
}

// canonicalLanguageTag resolves raw (as reported by ffprobe) to a BCP-47
// prefix, or returns raw unchanged if it is not one of the known ISO
// 639-2 codes above.
func canonicalLanguageTag(raw string) string {
	if tag, ok := languageTagMap[raw]; ok {
		return tag
	}
	return raw
}
