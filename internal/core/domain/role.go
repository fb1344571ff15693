package domain

import (
	"strings"
	"unicode"
)

// RoleKeywords drive author-role classification from free-text staff fields.
type RoleKeywords struct {
	Trainee []string
	LIP     []string
}

// ClassifyRole inspects role-indicating text. Trainee keywords take
// precedence over LIP keywords.
func (k RoleKeywords) ClassifyRole(texts ...string) AuthorRole {
	padded := " " + tokenize(strings.Join(texts, " ")) + " "
	if strings.TrimSpace(padded) == "" {
		return RoleUnknown
	}
	if containsKeyword(padded, k.Trainee) {
		return RoleTrainee
	}
	if containsKeyword(padded, k.LIP) {
		return RoleLicensedIndependent
	}
	return RoleUnknown
}

func containsKeyword(padded string, keywords []string) bool {
	for _, kw := range keywords {
		token := tokenize(kw)
		if token == "" {
			continue
		}
		if strings.Contains(padded, " "+token+" ") {
			return true
		}
	}
	return false
}

// tokenize uppercases and collapses every non-alphanumeric run to one space.
func tokenize(s string) string {
	fields := strings.FieldsFunc(strings.ToUpper(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}
