// Package validate holds the text limits of the payment program and the
// length measurement they are defined in.
package validate

import (
	"errors"
	"unicode/utf16"
)

// ErrRequired is returned when a mandatory input field is blank.
var ErrRequired = errors.New("missing required field")

const (
	// MaxUsernameLen is the longest accepted username.
	MaxUsernameLen = 32
	// MaxRemarksLen is the longest accepted remarks text.
	MaxRemarksLen = 100
)

// CodeUnitLen returns the length of s in UTF-16 code units. The limits above
// are counted this way, so characters outside the basic plane count as two.
func CodeUnitLen(s string) int {
	return len(utf16.Encode([]rune(s)))
}
