package csvparser

import (
	"strings"
	"time"

	"github.com/badoux/checkmail"

	"PulseCampaign/internal/models"
)

// dobLayouts are tried in order, so an ambiguous 03/04/2000 reads as
// day/month.
var dobLayouts = []string{
	"2006-1-2",
	"2/1/2006",
	"1/2/2006",
	"2006/1/2",
	"2-1-2006",
	"1-2-2006",
}

// ParseDOB parses a birth date in one of the accepted layouts.
func ParseDOB(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)

	// spreadsheet exports often carry a midnight time component
	if i := strings.IndexAny(raw, " T"); i > 0 {
		raw = raw[:i]
	}

	for _, layout := range dobLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func ValidAddress(address string) bool {
	return address != "" && checkmail.ValidateFormat(address) == nil
}

// ParseManual splits a comma or newline separated list of addresses.
// Invalid entries are dropped and duplicates removed.
func ParseManual(input string) []models.Recipient {
	fields := strings.FieldsFunc(input, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r' || r == ';'
	})

	var out []models.Recipient
	for _, f := range fields {
		address := strings.TrimSpace(f)
		if !ValidAddress(address) {
			continue
		}
		out = append(out, models.Recipient{Email: address})
	}
	return Dedupe(out)
}

// Dedupe keeps the first recipient for each address, compared
// case-insensitively, preserving order.
func Dedupe(lists ...[]models.Recipient) []models.Recipient {
	seen := make(map[string]struct{})
	var out []models.Recipient

	for _, list := range lists {
		for _, r := range list {
			key := strings.ToLower(r.Email)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}
