package validation

import (
	"errors"
	"strings"
	"unicode"
)

// ErrRegionEmpty is returned when region is empty or whitespace-only after trim.
var ErrRegionEmpty = errors.New("region is required")

// ErrLocationEmpty is returned when location is empty or whitespace-only after trim.
var ErrLocationEmpty = errors.New("location is required")

// ErrInvalidChars is returned when a name contains disallowed characters.
var ErrInvalidChars = errors.New("name contains invalid characters")

// ErrInvalidForecastDays is returned when the horizon is outside 1..16.
var ErrInvalidForecastDays = errors.New("forecast days must be between 1 and 16")

// maxForecastDays matches the longest horizon the upstream API serves.
const maxForecastDays = 16

// ValidateRegion trims and validates a region name: letters, digits, space,
// underscore, hyphen. Returns the trimmed string or an error suitable for a
// 400 response.
func ValidateRegion(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrRegionEmpty
	}
	if !allAllowedRunes(s) {
		return "", ErrInvalidChars
	}
	return s, nil
}

// ValidateLocation trims and validates a location name with the same
// character policy as regions.
func ValidateLocation(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrLocationEmpty
	}
	if !allAllowedRunes(s) {
		return "", ErrInvalidChars
	}
	return s, nil
}

// ValidateForecastDays bounds the horizon to what the upstream supports.
func ValidateForecastDays(days int) error {
	if days < 1 || days > maxForecastDays {
		return ErrInvalidForecastDays
	}
	return nil
}

func allAllowedRunes(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			continue
		}
		switch r {
		case ' ', '_', '-':
			continue
		}
		return false
	}
	return true
}
