package emote

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"unicode"

	"github.com/john/chatoverlay/internal/message"
)

// sentinel stands in for a literal '<' while native markup is injected.
// It is a single rune so character offsets stay valid.
const sentinel = "\x01"

const nativeURL = "https://static-cdn.jtvnw.net/emoticons/v2/%s/default/dark/1.0"

// NativeMarkup is the inline image injected for a platform emote.
func NativeMarkup(code string) string {
	src := fmt.Sprintf(nativeURL, code)
	return `<img class="emote emote-native" src="` + html.EscapeString(src) + `" />`
}

// ThirdPartyMarkup is the inline image injected for a catalog entry.
func ThirdPartyMarkup(e Entry) string {
	code := html.EscapeString(e.Code)
	provider := html.EscapeString(string(e.Provider))
	return `<img class="emote emote-` + provider + `" src="` + html.EscapeString(e.URL) +
		`" alt="` + code + `" title="` + code + ` (` + provider + `)" loading="lazy" />`
}

// Substitute rewrites raw chat text into markup-safe text with inline emote
// images. Native annotations are addressed by rune offsets into raw; catalog
// entries match whole whitespace-delimited tokens of the result.
//
// Overlapping native ranges are undefined. Ranges outside the text are skipped.
func Substitute(raw string, natives []message.EmoteAnnotation, catalog Catalog) string {
	escaped := strings.ReplaceAll(raw, "<", sentinel)

	out := escaped
	if len(natives) > 0 {
		out = replaceNative([]rune(escaped), natives)
	}

	out = strings.ReplaceAll(out, sentinel, "&lt;")
	out = strings.ReplaceAll(out, "> <", "><")

	if len(catalog) == 0 {
		return out
	}
	return replaceTokens(out, catalog)
}

func replaceNative(text []rune, natives []message.EmoteAnnotation) string {
	all := make([]message.EmoteAnnotation, len(natives))
	copy(all, natives)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Start < all[j].Start })

	// offset is the length delta introduced by earlier replacements.
	offset := 0
	size := len(text)
	for _, a := range all {
		if a.Start < 0 || a.End < a.Start || a.End >= size {
			continue
		}
		start, end := offset+a.Start, offset+a.End+1
		if start < 0 || end > len(text) {
			continue
		}
		tag := []rune(NativeMarkup(a.Code))

		next := make([]rune, 0, len(text)+len(tag))
		next = append(next, text[:start]...)
		next = append(next, tag...)
		next = append(next, text[end:]...)
		text = next

		offset += len(tag) - (a.End + 1 - a.Start)
	}
	return string(text)
}

func replaceTokens(s string, catalog Catalog) string {
	var b strings.Builder
	for _, tok := range splitKeepSpace(s) {
		word := strings.TrimSpace(tok)
		if e, ok := catalog[word]; ok && word != "" {
			tok = strings.Replace(tok, word, ThirdPartyMarkup(e), 1)
		}
		b.WriteString(tok)
	}
	return b.String()
}

// splitKeepSpace splits s into alternating runs of whitespace and
// non-whitespace so that joining the parts yields s again.
func splitKeepSpace(s string) []string {
	var parts []string
	start := 0
	inSpace := false
	for i, r := range s {
		space := unicode.IsSpace(r)
		if i > 0 && space != inSpace {
			parts = append(parts, s[start:i])
			start = i
		}
		inSpace = space
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}
