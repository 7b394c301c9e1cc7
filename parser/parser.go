// Package parser turns the rendered text of a unit datasheet into a
// models.UnitRecord.
//
// The text is tokenized into lines classified as blank, section header or
// data, and each section has its own rule working on a window of those
// lines. A rule that finds nothing leaves its field empty; parsing never fails.
package parser

import (
	"fmt"

	"github.com/aluiziolira/go-scrape-units/models"
)

// Parse extracts every recognised section from text.
func Parse(text string) *models.UnitRecord {
	lines := tokenize(text)
	rec := &models.UnitRecord{}

	parseStats(lines, rec)
	rec.InvulnerableSave = singleLine(lines, sectionInvulnerableSave)
	rec.RangedWeapons = parseWeapons(lines, sectionRangedWeapons)
	rec.MeleeWeapons = parseWeapons(lines, sectionMeleeWeapons)
	rec.WargearOptions = parseList(lines, sectionWargearOptions)
	rec.Abilities = parseList(lines, sectionAbilities)
	rec.UnitComposition = parseList(lines, sectionUnitComposition)
	rec.Keywords = parseKeywords(lines)
	rec.FactionKeywords = parseFactionKeywords(lines)
	rec.Enhancements = parseList(lines, sectionEnhancements)
	rec.LedBy = parseLedBy(lines)
	rec.DetachmentAbility = singleLine(lines, sectionDetachmentAbility)

	points, scoped := parsePoints(lines)
	if len(points) > 0 {
		rec.Points = points
		if !scoped {
			rec.Review = append(rec.Review, ReviewPointsUnscoped)
		}
	}
	stratagems, scoped := parseStratagems(lines)
	if len(stratagems) > 0 {
		rec.Stratagems = stratagems
		if !scoped {
			rec.Review = append(rec.Review, ReviewStratagemsUnscoped)
		}
	}
	return rec
}

// ValidateRecord reports whether a parsed record looks complete. A failure is
// informational: the record is still kept.
func ValidateRecord(rec *models.UnitRecord) error {
	if rec == nil {
		return fmt.Errorf("record is nil")
	}
	if !rec.HasStats() {
		return fmt.Errorf("record missing stat block")
	}
	if len(rec.RangedWeapons) == 0 && len(rec.MeleeWeapons) == 0 {
		return fmt.Errorf("record has no weapon profiles")
	}
	return nil
}
