package parser

import (
	"regexp"
	"strconv"

	"github.com/aluiziolira/go-scrape-units/models"
)

// Review flags attached to records whose points or stratagems were found
// outside their own section.
const (
	ReviewPointsUnscoped     = "points:unscoped"
	ReviewStratagemsUnscoped = "stratagems:unscoped"
)

var (
	pointsInlineRe = regexp.MustCompile(`^(\d+) models?\s+(\d+)(?:\s*pts)?$`)
	modelsRe       = regexp.MustCompile(`^(\d+) models?$`)
	costRe         = regexp.MustCompile(`^(\d+)(?:\s*pts)?$`)
	commandPointRe = regexp.MustCompile(`^\d+\s?CP$`)
)

// parsePoints prefers matches inside the UNIT COMPOSITION section and falls
// back to a scan of the whole page. scoped is false for the fallback.
func parsePoints(lines []line) (entries []models.PointsEntry, scoped bool) {
	if start := find(lines, sectionUnitComposition); start >= 0 {
		if found := scanPoints(span(lines, start)); len(found) > 0 {
			return found, true
		}
	}
	return scanPoints(nonBlank(lines)), false
}

func scanPoints(ls []line) []models.PointsEntry {
	var out []models.PointsEntry
	for i := 0; i < len(ls); i++ {
		if ls[i].kind != lineData {
			continue
		}
		if m := pointsInlineRe.FindStringSubmatch(ls[i].text); m != nil {
			out = append(out, pointsEntry(m[1], m[2]))
			continue
		}
		m := modelsRe.FindStringSubmatch(ls[i].text)
		if m == nil || i+1 >= len(ls) || ls[i+1].kind != lineData {
			continue
		}
		if c := costRe.FindStringSubmatch(ls[i+1].text); c != nil {
			out = append(out, pointsEntry(m[1], c[1]))
			i++
		}
	}
	return out
}

func pointsEntry(count, cost string) models.PointsEntry {
	n, _ := strconv.Atoi(count)
	points, _ := strconv.Atoi(cost)
	return models.PointsEntry{ModelCount: n, Cost: points}
}

// parseStratagems prefers matches inside the STRATAGEMS section and falls back
// to a scan of the whole page. scoped is false for the fallback.
func parseStratagems(lines []line) (entries []models.Stratagem, scoped bool) {
	if start := find(lines, sectionStratagems); start >= 0 {
		if found := scanStratagems(span(lines, start)); len(found) > 0 {
			return found, true
		}
	}
	return scanStratagems(nonBlank(lines)), false
}

// scanStratagems matches name / <n>CP / source triples without overlap.
func scanStratagems(ls []line) []models.Stratagem {
	var out []models.Stratagem
	for i := 1; i+1 < len(ls); i++ {
		if !commandPointRe.MatchString(ls[i].text) {
			continue
		}
		if ls[i-1].kind != lineData || ls[i+1].kind != lineData {
			continue
		}
		out = append(out, models.Stratagem{
			Name:             ls[i-1].text,
			CommandPointCost: ls[i].text,
			Source:           ls[i+1].text,
		})
		i += 2
	}
	return out
}
