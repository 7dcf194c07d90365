package community

import (
	"strings"
	"unicode/utf8"

	"github.com/meghan/community-chat/internal/apperr"
)

const (
	MaxCommunityChars  = 2000
	MaxExpressionChars = 280
)

// Limits maps a room kind to its content cap in characters.
type Limits map[Kind]int

// DefaultLimits returns the caps used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		KindCommunity:  MaxCommunityChars,
		KindExpression: MaxExpressionChars,
	}
}

// For returns the cap for kind, falling back to the community cap.
func (l Limits) For(kind Kind) int {
	if n, ok := l[kind]; ok && n > 0 {
		return n
	}
	return MaxCommunityChars
}

// ValidateContent trims surrounding whitespace and checks the result against
// max characters. It returns the trimmed content on success.
func ValidateContent(content string, max int) (string, error) {
	if !utf8.ValidString(content) {
		return "", apperr.ErrInvalidUTF8
	}
	trimmed := strings.TrimSpace(content)
	if len(trimmed) == 0 {
		return "", apperr.ErrEmptyContent
	}
	if utf8.RuneCountInString(trimmed) > max {
		return "", apperr.ContentTooLong(max)
	}
	return trimmed, nil
}
