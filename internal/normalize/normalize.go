// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

// Package normalize canonicalises tag strings so that spelling variants of
// the same artist, album or title compare equal. Raw tags stay in the store;
// normalization is applied when records are read.
package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var (
	bracketGroup = regexp.MustCompile(`\s*[\(\[\{]([^\)\]\}]*)[\)\]\}]`)
	whitespace   = regexp.MustCompile(`\s+`)
	// featured artist credits, with or without brackets
	featuring = regexp.MustCompile(`\s*[\(\[]?\b(feat\.?|ft\.?|featuring)\s.*$`)
	ampersand = regexp.MustCompile(`\s+(and|\+|&amp;)\s+`)
)

// Normalizer holds the configured qualifier lists. It is safe for
// concurrent use.
type Normalizer struct {
	albumRemove []string
	titleRemove []string
}

// New builds a Normalizer. Phrases are matched case-insensitively.
func New(albumRemove, titleRemove []string) *Normalizer {
	return &Normalizer{
		albumRemove: lowerAll(albumRemove),
		titleRemove: lowerAll(titleRemove),
	}
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(lower(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// lower applies NFKC then Unicode lower-casing. cases.Caser keeps state, so
// a fresh one is used per call.
func lower(s string) string {
	return cases.Lower(language.Und).String(norm.NFKC.String(s))
}

func collapse(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// Artist lower-cases, drops featured artist credits, and unifies "and"
// forms with "&".
func (n *Normalizer) Artist(s string) string {
	s = lower(s)
	s = featuring.ReplaceAllString(s, "")
	s = ampersand.ReplaceAllString(s, " & ")
	return collapse(s)
}

// Album lower-cases and strips edition qualifiers such as
// "(Deluxe Edition)" or " - Remastered 2011".
func (n *Normalizer) Album(s string) string {
	return stripQualifiers(lower(s), n.albumRemove)
}

// Title is Album for track titles, using the title qualifier list.
func (n *Normalizer) Title(s string) string {
	s = featuring.ReplaceAllString(lower(s), "")
	return stripQualifiers(s, n.titleRemove)
}

// Genre lower-cases and trims a single genre label.
func (n *Normalizer) Genre(s string) string {
	return collapse(lower(s))
}

func stripQualifiers(s string, phrases []string) string {
	s = bracketGroup.ReplaceAllStringFunc(s, func(group string) string {
		if containsAny(group, phrases) {
			return ""
		}
		return group
	})
	if i := strings.LastIndex(s, " - "); i > 0 && containsAny(s[i+3:], phrases) {
		s = s[:i]
	}
	s = ampersand.ReplaceAllString(s, " & ")
	return collapse(s)
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if containsWord(s, p) {
			return true
		}
	}
	return false
}

// containsWord reports whether phrase occurs in s on word boundaries, so
// "live" does not match "oliver".
func containsWord(s, phrase string) bool {
	for from := 0; from <= len(s)-len(phrase); {
		i := strings.Index(s[from:], phrase)
		if i < 0 {
			return false
		}
		start, end := from+i, from+i+len(phrase)
		if (start == 0 || !isWordByte(s[start-1])) && (end == len(s) || !isWordByte(s[end])) {
			return true
		}
		from = start + 1
	}
	return false
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b >= 0x80
}
