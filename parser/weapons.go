package parser

import (
	"strings"

	"github.com/aluiziolira/go-scrape-units/models"
)

var columnKeys = map[string]string{
	"NAME":  "Name",
	"RANGE": "Range",
	"MELEE": "Melee",
	"A":     "A",
	"BS":    "Bs",
	"WS":    "Ws",
	"S":     "S",
	"AP":    "Ap",
	"D":     "D",
}

// ColumnKey maps a weapon table header token to its canonical column name.
// Ballistic and weapon skill stay distinct as Bs and Ws.
func ColumnKey(token string) (string, bool) {
	key, ok := columnKeys[strings.ToUpper(strings.TrimSpace(token))]
	return key, ok
}

func isWeaponTerminator(text string) bool {
	switch strings.ToUpper(text) {
	case "RANGE", "MELEE WEAPONS", "RANGED WEAPONS":
		return true
	}
	return false
}

// weaponBlock returns the non-blank lines of a weapon section. The block ends
// at the next named header, or at a blank line followed by an all-caps heading.
func weaponBlock(lines []line, start int) []string {
	var out []string
	for i := start + 1; i < len(lines); i++ {
		l := lines[i]
		if l.kind == lineHeader {
			break
		}
		if l.kind == lineBlank {
			if i+1 < len(lines) && lines[i+1].kind == lineData && isCapsHeading(lines[i+1].text) {
				break
			}
			continue
		}
		out = append(out, l.text)
	}
	return out
}

func parseWeapons(lines []line, sec section) []models.WeaponProfile {
	start := find(lines, sec)
	if start < 0 {
		return nil
	}
	body := weaponBlock(lines, start)

	i := 0
	for i < len(body) {
		if _, ok := ColumnKey(body[i]); ok {
			break
		}
		i++
	}
	var headers []string
	for ; i < len(body); i++ {
		key, ok := ColumnKey(body[i])
		if !ok {
			break
		}
		headers = append(headers, key)
	}
	if len(headers) == 0 {
		return nil
	}
	return sliceProfiles(headers, body[i:])
}

// sliceProfiles consumes rows in groups of one name line plus one value line
// per non-Name column. A trailing group without enough lines is dropped.
func sliceProfiles(headers []string, rows []string) []models.WeaponProfile {
	columns := make([]string, 0, len(headers))
	for _, h := range headers {
		if h != "Name" {
			columns = append(columns, h)
		}
	}
	group := 1 + len(columns)

	profiles := []models.WeaponProfile{}
	for i := 0; i < len(rows); i += group {
		if isWeaponTerminator(rows[i]) || i+group > len(rows) {
			break
		}
		p := models.WeaponProfile{Name: rows[i], Stats: make([]models.WeaponStat, 0, len(columns))}
		for j, col := range columns {
			p.Stats = append(p.Stats, models.WeaponStat{Column: col, Value: rows[i+1+j]})
		}
		profiles = append(profiles, p)
	}
	return profiles
}
