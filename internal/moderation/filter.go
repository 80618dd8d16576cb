// Package moderation screens message bodies for prohibited content. The
// filter never blocks delivery; a hit produces a system flag on the already
// committed message so the ledger records it for review.
package moderation

import (
	"strings"
	"unicode"
)

// FilterResult is the outcome of a content check.
type FilterResult struct {
	Flagged bool
	Reason  string // "keyword" or "spam_pattern"
	Term    string // the matched blocklist term or spam check name
}

// Filter holds the keyword blocklist, split into single words and
// multi-word phrases. A Filter is immutable after construction and safe
// for concurrent use.
type Filter struct {
	words   map[string]struct{}
	phrases [][]string
}

// defaultBlocklist is the built-in term list: slurs, self-harm bait,
// exploitation, threats and common scams.
var defaultBlocklist = []string{
	// slurs
	"nigger", "nigga", "faggot", "tranny", "kike", "spic", "chink",
	// self-harm
	"kill yourself", "go die", "neck yourself", "kys",
	// exploitation
	"child porn", "cp trade", "send nudes", "underage pics",
	// violence and extremism
	"heil hitler", "bomb threat", "shoot up", "gas the",
	// scams
	"free bitcoin", "free crypto", "cashapp me", "wire me money",
}

// NewFilter creates a Filter with the default blocklist.
func NewFilter() *Filter {
	return NewFilterWithTerms(defaultBlocklist)
}

// NewFilterWithTerms creates a Filter with a custom term list. Terms are
// lowercased; empty and whitespace-only entries are dropped. Terms
// containing spaces are matched as exact token sequences.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{words: make(map[string]struct{})}
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if tokens := strings.Fields(term); len(tokens) > 1 {
			f.phrases = append(f.phrases, tokens)
		} else {
			f.words[term] = struct{}{}
		}
	}
	return f
}

// Check screens text against the keyword blocklist and the spam patterns.
// Keyword hits take priority. The text is tokenized twice: once plainly
// and once preserving leetspeak characters which are then normalized, so
// "b@dw0rd" matches "badword".
func (f *Filter) Check(text string) FilterResult {
	lower := strings.ToLower(text)

	if res := f.checkTokens(tokenizePlain(lower)); res.Flagged {
		return res
	}

	leet := tokenizeLeet(lower)
	for i, tok := range leet {
		leet[i] = normalizeLeet(tok)
	}
	if res := f.checkTokens(leet); res.Flagged {
		return res
	}

	return f.checkSpamPatterns(text)
}

func (f *Filter) checkTokens(tokens []string) FilterResult {
	for _, tok := range tokens {
		if _, ok := f.words[tok]; ok {
			return FilterResult{Flagged: true, Reason: "keyword", Term: tok}
		}
	}
	for _, phrase := range f.phrases {
		if containsSequence(tokens, phrase) {
			return FilterResult{Flagged: true, Reason: "keyword", Term: strings.Join(phrase, " ")}
		}
	}
	return FilterResult{}
}

func containsSequence(tokens, phrase []string) bool {
	if len(phrase) == 0 || len(tokens) < len(phrase) {
		return false
	}
outer:
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		for j, want := range phrase {
			if tokens[i+j] != want {
				continue outer
			}
		}
		return true
	}
	return false
}

// leetMap translates common character substitutions back to letters.
var leetMap = map[rune]rune{
	'0': 'o', '1': 'i', '3': 'e', '4': 'a', '5': 's', '7': 't',
	'@': 'a', '$': 's', '!': 'i',
}

// normalizeLeet replaces leetspeak substitutions in a single token.
func normalizeLeet(token string) string {
	var b strings.Builder
	b.Grow(len(token))
	for _, r := range token {
		if sub, ok := leetMap[r]; ok {
			b.WriteRune(sub)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// tokenizePlain splits text into tokens on any non-letter, non-digit rune.
func tokenizePlain(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// tokenizeLeet splits like tokenizePlain but keeps leetspeak punctuation
// inside tokens so normalizeLeet can translate it.
func tokenizeLeet(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		if _, ok := leetMap[r]; ok {
			return false
		}
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
