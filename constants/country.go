package constants

import (
	"regexp"
	"strings"
)

// CountryCode is an ISO 3166-1 alpha-2 code as used on Intrastat declarations.
type CountryCode string

const (
	Romania       CountryCode = "RO"
	Germany       CountryCode = "DE"
	France        CountryCode = "FR"
	Italy         CountryCode = "IT"
	Spain         CountryCode = "ES"
	Hungary       CountryCode = "HU"
	Poland        CountryCode = "PL"
	Bulgaria      CountryCode = "BG"
	Czechia       CountryCode = "CZ"
	Slovakia      CountryCode = "SK"
	Austria       CountryCode = "AT"
	Netherlands   CountryCode = "NL"
	Belgium       CountryCode = "BE"
	Luxembourg    CountryCode = "LU"
	UnitedKingdom CountryCode = "UK"
	UnitedStates  CountryCode = "US"
)

// countryNames is ordered so that lookups are deterministic when an address names two countries.
var countryNames = []struct {
	code CountryCode
	name string
}{
	{Romania, "romania"},
	{Germany, "germany"},
	{France, "france"},
	{Italy, "italy"},
	{Spain, "spain"},
	{Hungary, "hungary"},
	{Poland, "poland"},
	{Bulgaria, "bulgaria"},
	{Czechia, "czech republic"},
	{Slovakia, "slovakia"},
	{Austria, "austria"},
	{Netherlands, "netherlands"},
	{Belgium, "belgium"},
	{Luxembourg, "luxembourg"},
	{UnitedKingdom, "united kingdom"},
	{UnitedStates, "united states"},
}

var (
	vatPrefixRe = regexp.MustCompile(`\b([A-Z]{2})\d+`)
	isoCodeRe   = regexp.MustCompile(`^[A-Z]{2}$`)
)

// CountryFromAddress derives a country code from free address text. A VAT
// number prefix (RO15599111) wins over a spelled-out country name.
func CountryFromAddress(address string) (CountryCode, bool) {
	if strings.TrimSpace(address) == "" {
		return "", false
	}
	if m := vatPrefixRe.FindStringSubmatch(address); m != nil {
		return CountryCode(m[1]), true
	}
	normalized := strings.ToLower(address)
	for _, c := range countryNames {
		if containsWord(normalized, c.name) {
			return c.code, true
		}
	}
	return "", false
}

// Canonicalize accepts either a two-letter code or a known country name.
func Canonicalize(input string) (CountryCode, bool) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", false
	}
	if upper := strings.ToUpper(s); isoCodeRe.MatchString(upper) {
		return CountryCode(upper), true
	}
	normalized := strings.ToLower(s)
	for _, c := range countryNames {
		if normalized == c.name {
			return c.code, true
		}
	}
	return "", false
}

func containsWord(haystack, word string) bool {
	idx := strings.Index(haystack, word)
	for idx >= 0 {
		before := idx == 0 || !isLetter(haystack[idx-1])
		end := idx + len(word)
		after := end == len(haystack) || !isLetter(haystack[end])
		if before && after {
			return true
		}
		next := strings.Index(haystack[idx+1:], word)
		if next < 0 {
			return false
		}
		idx += next + 1
	}
	return false
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
