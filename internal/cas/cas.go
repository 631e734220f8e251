// Package cas checks the shape and check digit of CAS Registry Numbers.
package cas

import (
	"fmt"
	"regexp"
	"strings"
)

var pattern = regexp.MustCompile(`^(\d{2,7})-(\d{2})-(\d)$`)

// Normalize trims surrounding whitespace.
func Normalize(s string) string {
	return strings.TrimSpace(s)
}

// Validate reports why s is not a well-formed CAS number, or nil when it is.
// The check digit is the weighted sum of the other digits, read right to
// left with weights starting at 1, modulo 10.
func Validate(s string) error {
	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return fmt.Errorf("'%s' does not match the NNNNNNN-NN-N layout", s)
	}
	digits := m[1] + m[2]
	sum := 0
	for i := 0; i < len(digits); i++ {
		weight := len(digits) - i
		sum += weight * int(digits[i]-'0')
	}
	if want := byte('0' + sum%10); m[3][0] != want {
		return fmt.Errorf("check digit of '%s' should be %c", s, want)
	}
	return nil
}

// Valid is Validate without the reason.
func Valid(s string) bool {
	return Validate(s) == nil
}
