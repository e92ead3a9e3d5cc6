package features

import (
	"regexp"
	"sort"
	"strings"

	"github.com/rivo/uniseg"
)

type spanKind uint8

const (
	spanEmoji spanKind = iota
	spanURL
)

// span is a byte range [start, end) of the content.
type span struct {
	start, end int
	kind       spanKind
}

var urlPattern = regexp.MustCompile(`(?i)\b(?:https?://|www\.)[^\s<>"]+`)

const urlTrailing = `.,!?;:)]}'"`

func findURLs(s string) []span {
	var out []span
	for _, loc := range urlPattern.FindAllStringIndex(s, -1) {
		end := loc[1]
		for end > loc[0] && strings.IndexByte(urlTrailing, s[end-1]) >= 0 {
			end--
		}
		if end > loc[0] {
			out = append(out, span{start: loc[0], end: end, kind: spanURL})
		}
	}
	return out
}

// findEmojis walks grapheme clusters so that ZWJ sequences, skin tones and
// flags come out as one emoji each.
func findEmojis(s string) []span {
	var out []span
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		if isEmojiCluster(g.Runes()) {
			from, to := g.Positions()
			out = append(out, span{start: from, end: to, kind: spanEmoji})
		}
	}
	return out
}

func isEmojiCluster(rs []rune) bool {
	if len(rs) == 0 {
		return false
	}
	vs16 := false
	for _, r := range rs {
		switch {
		case r == 0x20E3, r >= 0x1F1E6 && r <= 0x1F1FF:
			// keycap or regional indicator
			return true
		case r == 0xFE0F:
			vs16 = true
		}
	}

	first := rs[0]
	switch {
	case first >= 0x1F100 && first <= 0x1F1E5:
		return vs16 || first == 0x1F18E || (first >= 0x1F191 && first <= 0x1F19A)
	case first >= 0x1F000 && first <= 0x1FAFF:
		return true
	case emojiPresentationBMP(first):
		return true
	default:
		return vs16 && first > 0x7F
	}
}

// emojiPresentationBMP lists BMP code points that render as emoji without a
// variation selector.
func emojiPresentationBMP(r rune) bool {
	switch {
	case r == 0x231A, r == 0x231B, r >= 0x23E9 && r <= 0x23EC, r == 0x23F0, r == 0x23F3,
		r == 0x25FD, r == 0x25FE, r == 0x2614, r == 0x2615, r >= 0x2648 && r <= 0x2653,
		r == 0x267F, r == 0x2693, r == 0x26A1, r == 0x26AA, r == 0x26AB, r == 0x26BD,
		r == 0x26BE, r == 0x26C4, r == 0x26C5, r == 0x26CE, r == 0x26D4, r == 0x26EA,
		r == 0x26F2, r == 0x26F3, r == 0x26F5, r == 0x26FA, r == 0x26FD, r == 0x2705,
		r == 0x270A, r == 0x270B, r == 0x2728, r == 0x274C, r == 0x274E,
		r >= 0x2753 && r <= 0x2755, r == 0x2757, r >= 0x2795 && r <= 0x2797,
		r == 0x27B0, r == 0x27BF, r == 0x2B1B, r == 0x2B1C, r == 0x2B50, r == 0x2B55:
		return true
	}
	return false
}

// resolve orders spans and drops any that overlap an already kept span.
// Earlier spans win; at equal start the longer one wins.
func resolve(spans []span) []span {
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end > spans[j].end
	})
	kept := spans[:0]
	lastEnd := -1
	for _, sp := range spans {
		if sp.start < lastEnd {
			continue
		}
		kept = append(kept, sp)
		lastEnd = sp.end
	}
	return kept
}

// cut removes non-overlapping, ordered spans in a single pass.
func cut(s string, spans []span) string {
	if len(spans) == 0 {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	pos := 0
	for _, sp := range spans {
		sb.WriteString(s[pos:sp.start])
		pos = sp.end
	}
	sb.WriteString(s[pos:])
	return sb.String()
}
