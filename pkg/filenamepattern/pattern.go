package filenamepattern

import (
	"errors"
	"fmt"
	"strings"
)

// Kind selects the variable set a pattern is validated against.
type Kind string

const (
	KindArchive Kind = "archive"
	KindAttempt Kind = "attempt"
)

// ArchiveVariables are the placeholders allowed in archive filename patterns.
var ArchiveVariables = []string{
	"courseid",
	"cmid",
	"quizid",
	"courseshortname",
	"coursename",
	"quizname",
	"date",
	"time",
	"timestamp",
}

// AttemptVariables are the placeholders allowed in attempt filename patterns.
var AttemptVariables = []string{
	"courseid",
	"cmid",
	"quizid",
	"attemptid",
	"username",
	"firstname",
	"lastname",
	"idnumber",
	"timestart",
	"timefinish",
	"date",
	"time",
	"timestamp",
}

// Forbidden lists the characters that may not appear outside of placeholders.
const Forbidden = `/\.:;*?!"<>|`

var (
	ErrEmpty              = errors.New("pattern is empty")
	ErrUnterminated       = errors.New("unterminated variable")
	ErrUnknownVariable    = errors.New("unknown variable")
	ErrForbiddenCharacter = errors.New("forbidden character")
)

// Validate checks pattern against the allowed variable names. The returned
// error wraps one of the Err* sentinels.
func Validate(pattern string, variables []string) error {
	if pattern == "" {
		return ErrEmpty
	}

	allowed := make(map[string]struct{}, len(variables))
	for _, v := range variables {
		allowed[v] = struct{}{}
	}

	rest := pattern
	for rest != "" {
		start := strings.Index(rest, "${")
		literal := rest
		if start >= 0 {
			literal = rest[:start]
		}
		if i := strings.IndexAny(literal, Forbidden); i >= 0 {
			return fmt.Errorf("%w %q", ErrForbiddenCharacter, literal[i])
		}
		if start < 0 {
			return nil
		}

		rest = rest[start+2:]
		end := strings.IndexByte(rest, '}')
		if end < 0 {
			return ErrUnterminated
		}
		name := rest[:end]
		if _, ok := allowed[name]; !ok {
			return fmt.Errorf("%w ${%s}", ErrUnknownVariable, name)
		}
		rest = rest[end+1:]
	}
	return nil
}

// ValidateKind validates pattern for the given pattern kind.
func ValidateKind(kind Kind, pattern string) error {
	switch kind {
	case KindArchive:
		return Validate(pattern, ArchiveVariables)
	case KindAttempt:
		return Validate(pattern, AttemptVariables)
	default:
		return fmt.Errorf("unknown pattern kind %q", kind)
	}
}

func IsValidArchivePattern(pattern string) bool {
	return Validate(pattern, ArchiveVariables) == nil
}

func IsValidAttemptPattern(pattern string) bool {
	return Validate(pattern, AttemptVariables) == nil
}
