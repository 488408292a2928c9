package preprocessing

import (
	"crypto/sha1"
	"encoding/hex"
	"html"
	"regexp"
	"strings"
)

var (
	urlRegex    = regexp.MustCompile(`(?i)(https?://|www\.)[^\s]+`)
	tagRegex    = regexp.MustCompile(`<[^>]*>`)
	whitespace  = regexp.MustCompile(`\s+`)
	punctuation = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)

	// "WASHINGTON (Reuters) - ", "LONDON/PARIS (Reuters) -" and similar
	// dateline prefixes that give away the source of an article.
	publisherPrefix = regexp.MustCompile(`^[^\n()]{0,80}\((?:Reuters|AP|AFP)\)\s*[-–—]\s*`)
)

// CleanOptions controls CleanText.
type CleanOptions struct {
	// Lowercase folds the text to lower case.
	Lowercase bool
	// StripPublisherPrefix removes a leading news-agency dateline.
	StripPublisherPrefix bool
}

// DefaultCleanOptions is used by the training pipeline and the serving path.
var DefaultCleanOptions = CleanOptions{Lowercase: true, StripPublisherPrefix: true}

// CleanText strips HTML tags and entities, URLs and punctuation, then squeezes
// whitespace.
func CleanText(input string, opts CleanOptions) string {
	if input == "" {
		return ""
	}
	s := html.UnescapeString(input)
	s = strings.TrimSpace(s)
	if opts.StripPublisherPrefix {
		s = publisherPrefix.ReplaceAllString(s, "")
	}
	s = tagRegex.ReplaceAllString(s, " ")
	s = RemoveURLs(s)
	s = punctuation.ReplaceAllString(s, " ")
	s = whitespace.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if opts.Lowercase {
		s = strings.ToLower(s)
	}
	return s
}

// RemoveURLs removes all URLs from the input text.
func RemoveURLs(input string) string {
	return urlRegex.ReplaceAllString(input, " ")
}

// Combine joins a cleaned title and body into the single document fed to
// the vectorizer.
func Combine(title, text string) string {
	switch {
	case title == "":
		return text
	case text == "":
		return title
	default:
		return title + " " + text
	}
}

// Fingerprint returns a stable hash of an article for duplicate detection.
// Case, punctuation and spacing differences do not change it.
func Fingerprint(title, text string) string {
	norm := CleanText(title, CleanOptions{Lowercase: true}) + "|" + CleanText(text, CleanOptions{Lowercase: true})
	s := sha1.Sum([]byte(norm))
	return hex.EncodeToString(s[:])
}
