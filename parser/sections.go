package parser

import (
	"strings"

	"github.com/aluiziolira/go-scrape-units/models"
)

var statLabels = [...]string{"M", "T", "Sv", "W", "Ld", "OC"}

// parseStats looks for the label/value ladder M, T, Sv, W, Ld, OC over the
// non-blank lines and fills the six stats positionally.
func parseStats(lines []line, rec *models.UnitRecord) {
	ls := nonBlank(lines)
	size := 2 * len(statLabels)
	for i := 0; i+size <= len(ls); i++ {
		if !statLadderAt(ls, i) {
			continue
		}
		rec.Movement = ls[i+1].text
		rec.Toughness = ls[i+3].text
		rec.Save = ls[i+5].text
		rec.Wounds = ls[i+7].text
		rec.Leadership = ls[i+9].text
		rec.OC = ls[i+11].text
		return
	}
}

func statLadderAt(ls []line, i int) bool {
	for n, label := range statLabels {
		if ls[i+2*n].text != label {
			return false
		}
	}
	return true
}

// singleLine captures the line right after the header of sec.
func singleLine(lines []line, sec section) string {
	start := find(lines, sec)
	if start < 0 || start+1 >= len(lines) || lines[start+1].kind != lineData {
		return ""
	}
	return lines[start+1].text
}

// parseList returns the body of a list section. nil means the header was not
// found; an empty slice means it was found with no body.
func parseList(lines []line, sec section) []string {
	start := find(lines, sec)
	if start < 0 {
		return nil
	}
	return texts(block(lines, start))
}

const ledByLeadIn = "This unit can be led by"

func parseLedBy(lines []line) []string {
	units := parseList(lines, sectionLedBy)
	if len(units) > 0 && strings.HasPrefix(units[0], ledByLeadIn) {
		units = units[1:]
	}
	return units
}

// parseKeywords reads the inline comma list after KEYWORDS: plus any
// continuation lines before FACTION KEYWORDS:.
func parseKeywords(lines []line) []string {
	return keywordSection(lines, sectionKeywords)
}

// parseFactionKeywords reads FACTION KEYWORDS:, one keyword per line until a
// blank line. An inline list on the label line is accepted too.
func parseFactionKeywords(lines []line) []string {
	return keywordSection(lines, sectionFactionKeywords)
}

func keywordSection(lines []line, sec section) []string {
	start := find(lines, sec)
	if start < 0 {
		return nil
	}
	set := newOrderedSet()
	set.addList(lines[start].inline)
	for _, l := range block(lines, start) {
		set.addList(l.text)
	}
	return set.items
}

// NormalizeKeyword trims a keyword and collapses inner whitespace.
func NormalizeKeyword(kw string) string {
	return strings.Join(strings.Fields(kw), " ")
}

type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{}), items: []string{}}
}

func (s *orderedSet) addList(list string) {
	for _, part := range strings.Split(list, ",") {
		kw := NormalizeKeyword(part)
		if kw == "" {
			continue
		}
		if _, ok := s.seen[kw]; ok {
			continue
		}
		s.seen[kw] = struct{}{}
		s.items = append(s.items, kw)
	}
}
