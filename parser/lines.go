package parser

import (
	"strings"
	"unicode"
)

type lineKind int

const (
	lineBlank lineKind = iota
	lineHeader
	lineData
)

type section int

const (
	sectionNone section = iota
	sectionInvulnerableSave
	sectionRangedWeapons
	sectionMeleeWeapons
	sectionWargearOptions
	sectionAbilities
	sectionUnitComposition
	sectionKeywords
	sectionFactionKeywords
	sectionEnhancements
	sectionStratagems
	sectionLedBy
	sectionDetachmentAbility
)

var sectionTitles = map[string]section{
	"INVULNERABLE SAVE":  sectionInvulnerableSave,
	"RANGED WEAPONS":     sectionRangedWeapons,
	"MELEE WEAPONS":      sectionMeleeWeapons,
	"WARGEAR OPTIONS":    sectionWargearOptions,
	"ABILITIES":          sectionAbilities,
	"UNIT COMPOSITION":   sectionUnitComposition,
	"ENHANCEMENTS":       sectionEnhancements,
	"STRATAGEMS":         sectionStratagems,
	"LED BY":             sectionLedBy,
	"DETACHMENT ABILITY": sectionDetachmentAbility,
}

const (
	keywordsLabel        = "KEYWORDS:"
	factionKeywordsLabel = "FACTION KEYWORDS:"
)

// line is one classified line of rendered text. inline holds whatever follows
// an inline label such as "KEYWORDS:".
type line struct {
	text    string
	kind    lineKind
	section section
	inline  string
}

func tokenize(text string) []line {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	raw := strings.Split(text, "\n")
	out := make([]line, 0, len(raw))
	for _, r := range raw {
		out = append(out, classify(strings.TrimSpace(r)))
	}
	return out
}

func classify(text string) line {
	if text == "" {
		return line{kind: lineBlank}
	}
	if sec, ok := sectionTitles[text]; ok {
		return line{text: text, kind: lineHeader, section: sec}
	}
	// FACTION KEYWORDS must be tested first, it contains the plain label.
	if rest, ok := strings.CutPrefix(text, factionKeywordsLabel); ok {
		return line{text: text, kind: lineHeader, section: sectionFactionKeywords, inline: strings.TrimSpace(rest)}
	}
	if rest, ok := strings.CutPrefix(text, keywordsLabel); ok {
		return line{text: text, kind: lineHeader, section: sectionKeywords, inline: strings.TrimSpace(rest)}
	}
	return line{text: text, kind: lineData}
}

// find returns the index of the first header of sec, or -1.
func find(lines []line, sec section) int {
	for i, l := range lines {
		if l.kind == lineHeader && l.section == sec {
			return i
		}
	}
	return -1
}

// block is the body of a list section: data lines after start up to the
// first blank line or header.
func block(lines []line, start int) []line {
	end := start + 1
	for end < len(lines) && lines[end].kind == lineData {
		end++
	}
	return lines[start+1 : end]
}

// span is every non-blank data line after start up to the next header.
func span(lines []line, start int) []line {
	var out []line
	for _, l := range lines[start+1:] {
		if l.kind == lineHeader {
			break
		}
		if l.kind == lineData {
			out = append(out, l)
		}
	}
	return out
}

// nonBlank drops blank lines.
func nonBlank(lines []line) []line {
	out := make([]line, 0, len(lines))
	for _, l := range lines {
		if l.kind != lineBlank {
			out = append(out, l)
		}
	}
	return out
}

func texts(lines []line) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.text)
	}
	return out
}

// isCapsHeading reports whether text looks like an unnamed all-caps section
// title: at least three letters, no lowercase, starts with a letter and is
// not a weapon column token.
func isCapsHeading(text string) bool {
	if _, ok := ColumnKey(text); ok {
		return false
	}
	letters := 0
	for i, r := range text {
		if i == 0 && !unicode.IsLetter(r) {
			return false
		}
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return letters >= 3
}
