package extract

import (
	"regexp"
	"strings"

	"toxfetch/internal/model"
	"toxfetch/internal/util"
)

// codePattern matches a hazard (H) or precautionary (P) statement code: the
// letter at a word boundary followed by exactly three digits. The trailing
// group rejects a fourth digit; only the first four characters are kept.
var codePattern = regexp.MustCompile(`\b[HP]\d{3}(?:\D|$)`)

// FindCodes returns the distinct codes in text that start with prefix ('H' or 'P'),
// in first-seen order. It returns an empty, non-nil slice when nothing matches.
func FindCodes(text string, prefix byte) []string {
	codes := []string{}
	seen := make(map[string]struct{})
	for _, m := range codePattern.FindAllString(text, -1) {
		if m[0] != prefix {
			continue
		}
		codes = util.AppendUnique(codes, seen, m[:4])
	}
	return codes
}

// ExtractCodes scans hazard-statement text for H### and P### codes.
// A column with no matches holds the single value "No data found".
func ExtractCodes(text string) (hazards, precautions []string) {
	hazards = FindCodes(text, 'H')
	precautions = FindCodes(text, 'P')
	if len(hazards) == 0 {
		hazards = []string{model.NoDataFound}
	}
	if len(precautions) == 0 {
		precautions = []string{model.NoDataFound}
	}
	return hazards, precautions
}

// noData returns the sentinel pair used when the provider has no GHS data.
func noData() (hazards, precautions []string) {
	return []string{model.NoDataFound}, []string{model.NoDataFound}
}

// JoinCodes renders codes for a single table cell.
func JoinCodes(codes []string, sep string) string {
	if sep == "" {
		sep = ","
	}
	return strings.Join(codes, sep)
}
