package app

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pwardo/nextjs-threads/internal/store"
)

const (
	minThreadLength = 3
	maxThreadLength = 1000
	minNameLength   = 3
	maxNameLength   = 50
	maxBioLength    = 1000
	maxPageSize     = 100
)

func validateThreadText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if n := utf8.RuneCountInString(text); n < minThreadLength || n > maxThreadLength {
		return "", validationError(
			fmt.Sprintf("text must be between %d and %d characters", minThreadLength, maxThreadLength),
			map[string]any{"field": "text", "length": n},
		)
	}
	return text, nil
}

func validateLength(field, value string, minLen, maxLen int) error {
	n := utf8.RuneCountInString(value)
	if n < minLen || n > maxLen {
		if minLen == 0 {
			return validationError(fmt.Sprintf("%s must be at most %d characters", field, maxLen), map[string]any{"field": field})
		}
		return validationError(fmt.Sprintf("%s must be between %d and %d characters", field, minLen, maxLen), map[string]any{"field": field})
	}
	return nil
}

// validateCommunityNames applies the user name limits to communities.
func validateCommunityNames(name, username string) error {
	if err := validateLength("name", name, minNameLength, maxNameLength); err != nil {
		return err
	}
	return validateLength("username", username, minNameLength, maxNameLength)
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return validationError(field+" is required", map[string]any{"field": field})
	}
	return nil
}

// pageWindow applies the feed defaults and returns the page size and row
// offset. Sizes above maxPageSize are rejected rather than clamped so the
// offset always stays (page-1)*size.
func pageWindow(page, pageSize, defaultSize int) (int, int, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultSize
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > maxPageSize {
		return 0, 0, validationError(
			fmt.Sprintf("pageSize must be at most %d", maxPageSize),
			map[string]any{"field": "pageSize", "max": maxPageSize},
		)
	}
	return pageSize, (page - 1) * pageSize, nil
}

func normalizeSort(sort string) store.SortOrder {
	if strings.EqualFold(strings.TrimSpace(sort), string(store.SortAsc)) {
		return store.SortAsc
	}
	return store.SortDesc
}
