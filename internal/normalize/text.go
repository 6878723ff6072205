package normalize

import "strings"

// Name trims and collapses whitespace in a person's name.
func Name(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

// SameName compares two names ignoring case and spacing.
func SameName(a, b string) bool {
	return strings.EqualFold(Name(a), Name(b))
}

// Key returns a lowercase lookup key for identifiers and names.
func Key(raw string) string {
	return strings.ToLower(Name(raw))
}
