package summary

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/kozaktomas/memento/internal/database"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// Normalize folds a free-text field for comparison: no diacritics, lower
// case, punctuation as spaces, single spaces.
func Normalize(s string) string {
	s = strings.ToLower(RemoveDiacritics(s))
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// SharedInterests lists what two profiles have in common, e.g.
// "company: Acme". Values are compared after normalization and reported as
// written on subject.
func SharedInterests(requester, subject *database.Profile) []string {
	if requester == nil || subject == nil {
		return nil
	}
	var out []string
	add := func(label, a, b string) {
		if na := Normalize(a); na != "" && na == Normalize(b) {
			out = append(out, label+": "+strings.TrimSpace(b))
		}
	}
	add("company", requester.Company, subject.Company)
	add("major", requester.Major, subject.Major)
	add("location", requester.Location, subject.Location)
	if requester.GraduationYear > 0 && requester.GraduationYear == subject.GraduationYear {
		out = append(out, "class of "+strconv.Itoa(subject.GraduationYear))
	}
	return out
}
