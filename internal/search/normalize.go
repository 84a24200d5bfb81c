package search

import "strings"

// titlePunctuation lists the characters stripped before cross-source
// title comparison. Catalog and AniList titles disagree on separators
// ("Title: Arc" vs "Title - Arc"), so raw equality is never used.
const titlePunctuation = ":-–—.,'!?()（）「」/\\"

// NormalizeTitle lowercases a title, strips separator punctuation, and
// collapses runs of whitespace, producing the canonical form used for
// all cross-source matching.
func NormalizeTitle(title string) string {
	mapped := strings.Map(func(r rune) rune {
		if strings.ContainsRune(titlePunctuation, r) {
			return ' '
		}
		return r
	}, title)
	return strings.ToLower(strings.Join(strings.Fields(mapped), " "))
}
