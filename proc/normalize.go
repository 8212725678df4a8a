package proc

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	bracketRegex = regexp.MustCompile(`[\(\[\{].*?[\)\]\}]`)
	camelRegex   = regexp.MustCompile(`([a-z])([A-Z])`)
	tokenSplit   = regexp.MustCompile(`[^a-z0-9]+`)
)

var fillerWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "of": {}, "x": {}, "vs": {},
	"ft": {}, "feat": {}, "featuring": {}, "prod": {},
	"official": {}, "video": {}, "audio": {}, "lyric": {}, "lyrics": {}, "music": {},
	"mv": {}, "hd": {}, "hq": {}, "4k": {}, "visualizer": {}, "topic": {},
	"remaster": {}, "remastered": {}, "version": {}, "full": {},
}

var renditionMarkers = []string{
	"live", "cover", "remix", "acoustic", "instrumental", "karaoke",
	"nightcore", "sped up", "slowed", "reverb", "8d",
}

// StripAccents removes combining marks after NFD decomposition ("Beyoncé" -> "Beyonce").
func StripAccents(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range norm.NFD.String(s) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Tokens reduces a title to the set of words that identify the song, minus the artist.
func Tokens(title, artist string) map[string]struct{} {
	out := make(map[string]struct{})
	artistTokens := make(map[string]struct{})
	for _, w := range words(cleanArtist(artist)) {
		artistTokens[w] = struct{}{}
	}
	for _, w := range words(stripAnnotations(title)) {
		if _, ok := fillerWords[w]; ok {
			continue
		}
		if _, ok := artistTokens[w]; ok {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

// Overlap is the Jaccard similarity of two token sets.
func Overlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

// NormalizeArtist folds an artist or channel name for equality checks.
func NormalizeArtist(s string) string {
	return strings.Join(words(cleanArtist(s)), "")
}

// SearchKey is the cache lookup key for a title: normalized words in their original order.
func SearchKey(title string) string {
	var kept []string
	for _, w := range words(stripAnnotations(title)) {
		if _, ok := fillerWords[w]; ok {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// HasRenditionMarker reports whether the title names a live, cover, remix or similar take.
func HasRenditionMarker(title string) bool {
	t := " " + strings.Join(words(title), " ") + " "
	for _, m := range renditionMarkers {
		if strings.Contains(t, " "+m+" ") {
			return true
		}
	}
	return false
}

func stripAnnotations(s string) string {
	s = bracketRegex.ReplaceAllString(s, " ")
	for _, sep := range []string{"|", "//", " - ", "–", "—"} {
		s = strings.ReplaceAll(s, sep, " ")
	}
	return s
}

func cleanArtist(s string) string {
	s = strings.TrimSuffix(strings.TrimSpace(s), " - Topic")
	s = strings.TrimSuffix(s, "VEVO")
	return s
}

func words(s string) []string {
	s = StripAccents(s)
	s = camelRegex.ReplaceAllString(s, "$1 $2")
	s = strings.ToLower(s)
	return strings.Fields(tokenSplit.ReplaceAllString(s, " "))
}
