package message

import (
	"unicode/utf8"

	"github.com/pawmatch/match-app/internal/errs"
)

const (
	MaxBodyBytes = 4096 // max encoded size
	MaxBodyChars = 2000 // max character count
)

// ValidateBody checks that a message body meets content requirements.
func ValidateBody(body string) error {
	if len(body) == 0 {
		return errs.New(errs.InvalidArgument, "message body is empty")
	}
	if len(body) > MaxBodyBytes {
		return errs.New(errs.InvalidArgument, "message exceeds %d byte limit", MaxBodyBytes)
	}
	if utf8.RuneCountInString(body) > MaxBodyChars {
		return errs.New(errs.InvalidArgument, "message exceeds %d character limit", MaxBodyChars)
	}
	if !utf8.ValidString(body) {
		return errs.New(errs.InvalidArgument, "message contains invalid UTF-8")
	}
	return nil
}
