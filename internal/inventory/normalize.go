package inventory

import (
	"regexp"
	"strings"
)

var nonAlphanumericRe = regexp.MustCompile(`[^a-z0-9]`)

// Normalize projects a display name onto its canonical matching key:
// lowercase with everything outside [a-z0-9] stripped. Intake and search
// both go through this so keys are always comparable.
func Normalize(name string) string {
	return nonAlphanumericRe.ReplaceAllString(strings.ToLower(name), "")
}
