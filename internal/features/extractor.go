// Package features derives lightweight content signals from message text.
// All signals are heuristic and recomputable from contents alone.
package features

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"

	"github.com/MikeSquared-Agency/convoseg/internal/message"
)

var (
	tokenPattern   = regexp.MustCompile(`[\p{L}\p{N}_]+`)
	mentionPattern = regexp.MustCompile(`(?:^|[^\p{L}\p{N}_])@([A-Za-z0-9_]+)`)
)

// Extractor computes FeatureSets. It is safe for concurrent use.
type Extractor struct {
	version        string
	interrogatives map[string]struct{}
	date           []*regexp.Regexp
	place          []*regexp.Regexp
	money          []*regexp.Regexp
}

// New compiles the vocabulary. A nil vocabulary uses the embedded default.
func New(v *Vocabulary) (*Extractor, error) {
	if v == nil {
		var err error
		if v, err = DefaultVocabulary(); err != nil {
			return nil, err
		}
	}

	e := &Extractor{
		version:        v.Version,
		interrogatives: make(map[string]struct{}, len(v.Interrogatives)),
	}
	fold := cases.Fold()
	for _, w := range v.Interrogatives {
		e.interrogatives[fold.String(strings.TrimSpace(w))] = struct{}{}
	}

	var err error
	if e.date, err = compileAll("date", v.Date); err != nil {
		return nil, err
	}
	if e.place, err = compileAll("place", v.Place); err != nil {
		return nil, err
	}
	if e.money, err = compileAll("money", v.Money); err != nil {
		return nil, err
	}
	return e, nil
}

func compileAll(category string, patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("vocabulary %s[%d]: %w", category, i, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// VocabularyVersion reports which vocabulary produced the signals.
func (e *Extractor) VocabularyVersion() string { return e.version }

// Extract is pure and total: any string, including the empty one, yields a
// complete FeatureSet.
func (e *Extractor) Extract(contents string) (message.FeatureSet, message.Extracted) {
	spans := append(findEmojis(contents), findURLs(contents)...)
	spans = resolve(spans)

	ex := message.Extracted{Emojis: []string{}, URLs: []string{}}
	for _, sp := range spans {
		switch sp.kind {
		case spanEmoji:
			ex.Emojis = append(ex.Emojis, contents[sp.start:sp.end])
		case spanURL:
			ex.URLs = append(ex.URLs, contents[sp.start:sp.end])
		}
	}
	clean := strings.TrimSpace(cut(contents, spans))
	ex.CleanContents = clean

	tokens := tokenPattern.FindAllString(clean, -1)
	fs := message.FeatureSet{
		TokenCount:     len(tokens),
		CharacterCount: utf8.RuneCountInString(clean),
		IsQuestion:     strings.Contains(clean, "?") || e.startsWithInterrogative(tokens),
		IsExclamation:  strings.Contains(clean, "!"),
		ContainsDate:   anyMatch(e.date, clean),
		ContainsPlace:  anyMatch(e.place, clean),
		ContainsMoney:  anyMatch(e.money, clean),
		Mentions:       mentions(contents, spans),
		HasEmojis:      len(ex.Emojis) > 0,
		HasURLs:        len(ex.URLs) > 0,
		EmojiCount:     len(ex.Emojis),
		URLCount:       len(ex.URLs),
	}
	return fs, ex
}

// Enrich attaches features and extracted spans to m.
func (e *Extractor) Enrich(m *message.Message) {
	fs, ex := e.Extract(m.Contents)
	m.Features = &fs
	m.Extracted = &ex
}

func (e *Extractor) startsWithInterrogative(tokens []string) bool {
	if len(tokens) == 0 {
		return false
	}
	_, ok := e.interrogatives[cases.Fold().String(tokens[0])]
	return ok
}

func anyMatch(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// mentions scans the original text so that a removed emoji cannot change
// what precedes an '@'. Matches inside a URL are dropped.
func mentions(s string, spans []span) []string {
	out := []string{}
	for _, loc := range mentionPattern.FindAllStringSubmatchIndex(s, -1) {
		if inURL(spans, loc[2]-1) {
			continue
		}
		out = append(out, s[loc[2]:loc[3]])
	}
	return out
}

func inURL(spans []span, pos int) bool {
	for _, sp := range spans {
		if sp.kind == spanURL && pos >= sp.start && pos < sp.end {
			return true
		}
	}
	return false
}
