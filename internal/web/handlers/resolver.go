package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MaxSubjectIDLength is the longest accepted subject id, in characters.
const MaxSubjectIDLength = 128

// ErrSubjectInvalid is returned when a subject id cannot be used as a key.
var ErrSubjectInvalid = errors.New("invalid subject id")

// SubjectResolver turns the subject id from a request path into the key the
// store uses.
type SubjectResolver interface {
	Resolve(ctx context.Context, raw string) (string, error)
}

// NormalizingResolver trims the id, converts it to Unicode NFC and accepts
// letters, digits, spaces and "-_.@".
type NormalizingResolver struct{}

// Resolve implements SubjectResolver.
func (NormalizingResolver) Resolve(_ context.Context, raw string) (string, error) {
	id := norm.NFC.String(strings.TrimSpace(raw))
	if id == "" {
		return "", fmt.Errorf("%w: empty", ErrSubjectInvalid)
	}
	if n := utf8.RuneCountInString(id); n > MaxSubjectIDLength {
		return "", fmt.Errorf("%w: %d characters, at most %d allowed", ErrSubjectInvalid, n, MaxSubjectIDLength)
	}
	for _, r := range id {
		if !validSubjectRune(r) {
			return "", fmt.Errorf("%w: character %q not allowed", ErrSubjectInvalid, r)
		}
	}
	return id, nil
}

func validSubjectRune(r rune) bool {
	switch {
	case r == utf8.RuneError:
		return false
	case unicode.IsLetter(r), unicode.IsDigit(r), unicode.Is(unicode.Mn, r):
		return true
	}
	return strings.ContainsRune("-_.@ ", r)
}
