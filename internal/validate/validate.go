package validate

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"
)

// Text field length limits, exposed to clients through /api/limits.
const (
	MaxTitleLength               = 300
	MaxDescriptionLength         = 5000
	MaxCategoryNameLength        = 100
	MaxCategoryDescriptionLength = 1000
	MaxReviewLength              = 2000
	MaxNameLength                = 100
	MaxEmailLength               = 320
	MaxSubtitleLabelLength       = 100
	MaxNotificationTitleLength   = 200
	MaxNotificationBodyLength    = 2000
	MaxLinkLength                = 500
	MinPasswordLength            = 8
	MaxPasswordLength            = 72
	MinSearchQueryLength         = 2
	MaxSearchQueryLength         = 100
)

func checkLen(value string, max int, field string) string {
	if utf8.RuneCountInString(value) > max {
		return fmt.Sprintf("%s must be %d characters or fewer", field, max)
	}
	return ""
}

func Title(s string) string       { return checkLen(s, MaxTitleLength, "title") }
func Description(s string) string { return checkLen(s, MaxDescriptionLength, "description") }
func CategoryName(s string) string {
	return checkLen(s, MaxCategoryNameLength, "category name")
}
func CategoryDescription(s string) string {
	return checkLen(s, MaxCategoryDescriptionLength, "category description")
}
func Review(s string) string        { return checkLen(s, MaxReviewLength, "review") }
func Name(s string) string          { return checkLen(s, MaxNameLength, "name") }
func SubtitleLabel(s string) string { return checkLen(s, MaxSubtitleLabelLength, "subtitle label") }
func NotificationTitle(s string) string {
	return checkLen(s, MaxNotificationTitleLength, "notification title")
}
func NotificationBody(s string) string {
	return checkLen(s, MaxNotificationBodyLength, "notification body")
}
func Link(s string) string { return checkLen(s, MaxLinkLength, "link") }

// Password checks the bcrypt-compatible length window. bcrypt ignores bytes
// past 72, so the upper bound counts bytes.
func Password(s string) string {
	if len(s) < MinPasswordLength || len(s) > MaxPasswordLength {
		return fmt.Sprintf("password must be between %d and %d characters", MinPasswordLength, MaxPasswordLength)
	}
	return ""
}

func Email(s string) string {
	if s == "" {
		return "email is required"
	}
	if msg := checkLen(s, MaxEmailLength, "email"); msg != "" {
		return msg
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s || !strings.Contains(s, "@") {
		return "invalid email address"
	}
	return ""
}

func SearchQuery(s string) string {
	n := utf8.RuneCountInString(strings.TrimSpace(s))
	if n < MinSearchQueryLength {
		return fmt.Sprintf("search query must be at least %d characters", MinSearchQueryLength)
	}
	return checkLen(s, MaxSearchQueryLength, "search query")
}

// FieldLimits returns a map of field names to max lengths for the /api/limits endpoint.
func FieldLimits() map[string]int {
	return map[string]int{
		"title":               MaxTitleLength,
		"description":         MaxDescriptionLength,
		"categoryName":        MaxCategoryNameLength,
		"categoryDescription": MaxCategoryDescriptionLength,
		"review":              MaxReviewLength,
		"name":                MaxNameLength,
		"subtitleLabel":       MaxSubtitleLabelLength,
		"notificationTitle":   MaxNotificationTitleLength,
		"notificationBody":    MaxNotificationBodyLength,
		"link":                MaxLinkLength,
		"passwordMin":         MinPasswordLength,
		"passwordMax":         MaxPasswordLength,
	}
}
