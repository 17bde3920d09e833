package db

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	MaxSlugLength = 60
	fallbackSlug  = "item"
)

// Slugify derives a URL-safe slug from a title: diacritics are folded,
// runs of anything other than a-z and 0-9 become a single hyphen.
func Slugify(title string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), title)
	if err != nil {
		folded = title
	}

	var b strings.Builder
	hyphen := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			hyphen = false
			continue
		}
		if !hyphen && b.Len() > 0 {
			b.WriteByte('-')
			hyphen = true
		}
	}

	return clampSlug(b.String(), MaxSlugLength)
}

func clampSlug(slug string, limit int) string {
	if len(slug) > limit {
		slug = slug[:limit]
	}
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return fallbackSlug
	}
	return slug
}

// UniqueSlug returns base, or base with the lowest numeric suffix from 2 up
// that is not taken.
func UniqueSlug(base string, taken map[string]bool) string {
	if !taken[base] {
		return base
	}
	for n := 2; ; n++ {
		suffix := "-" + strconv.Itoa(n)
		candidate := clampSlug(base, MaxSlugLength-len(suffix)) + suffix
		if !taken[candidate] {
			return candidate
		}
	}
}

// ValidSlug reports whether s could have been produced by Slugify
func ValidSlug(s string) bool {
	return s != "" && Slugify(s) == s
}
