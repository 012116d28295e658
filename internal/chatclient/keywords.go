package chatclient

import "regexp"

var importantPattern = regexp.MustCompile(`(?i)win|celebrat|onward|congrat|proud`)

// IsImportant reports whether an assistant reply should be highlighted.
// Matching is by substring, so "winning" and "Congratulations" both count.
func IsImportant(text string) bool {
	return importantPattern.MatchString(text)
}
