package filenamepattern

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_AcceptsKnownVariables(t *testing.T) {
	valid := []string{
		"quiz-archive-${courseshortname}-${courseid}-${quizname}-${quizid}_${date}-${time}",
		"archive",
		"${quizid}",
		"${courseid}${cmid}${quizid}",
		"archiv-ä-ü-ß_${timestamp}",
	}
	for _, p := range valid {
		assert.True(t, IsValidArchivePattern(p), p)
	}
	assert.True(t, IsValidAttemptPattern("attempt-${attemptid}-${username}_${date}-${time}"))
}

func TestValidate_RejectsUnknownVariable(t *testing.T) {
	err := Validate("archive-${username}", ArchiveVariables)
	assert.ErrorIs(t, err, ErrUnknownVariable)
	assert.False(t, IsValidArchivePattern("archive-${}"))
	assert.True(t, IsValidAttemptPattern("attempt-${username}"))
}

func TestValidate_RejectsUnterminatedVariable(t *testing.T) {
	assert.ErrorIs(t, Validate("archive-${courseid", ArchiveVariables), ErrUnterminated)
	assert.ErrorIs(t, Validate("${", ArchiveVariables), ErrUnterminated)
	assert.False(t, IsValidAttemptPattern("a-${attemptid}-${date"))
}

func TestValidate_RejectsEveryForbiddenCharacter(t *testing.T) {
	for _, c := range Forbidden {
		for _, p := range []string{
			string(c),
			"archive" + string(c),
			string(c) + "${courseid}",
			"${courseid}" + string(c) + "${quizid}",
		} {
			assert.ErrorIs(t, Validate(p, ArchiveVariables), ErrForbiddenCharacter, p)
			assert.False(t, IsValidAttemptPattern(p), p)
		}
	}
}

func TestValidate_RejectsEmpty(t *testing.T) {
	assert.ErrorIs(t, Validate("", ArchiveVariables), ErrEmpty)
}

func TestValidate_IsDeterministic(t *testing.T) {
	inputs := []string{"ok-${quizid}", "bad/${quizid}", "${nope}", "${quizid", strings.Repeat("x", 300)}
	for _, p := range inputs {
		first := IsValidArchivePattern(p)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, IsValidArchivePattern(p), p)
		}
	}
}

func TestValidateKind(t *testing.T) {
	assert.NoError(t, ValidateKind(KindArchive, "${quizname}"))
	assert.Error(t, ValidateKind(KindArchive, "${attemptid}"))
	assert.NoError(t, ValidateKind(KindAttempt, "${attemptid}"))
	assert.Error(t, ValidateKind(Kind("other"), "x"))
}
