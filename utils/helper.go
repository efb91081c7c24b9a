package utils

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

func DereferencePtr[T any](ptr *T, defaults ...T) T {
	if ptr != nil {
		return *ptr
	}
	var def T
	if len(defaults) > 0 {
		def = defaults[0]
	}
	return def
}

func UniqueSlice[T comparable](slice []T) []T {
	seen := make(map[T]struct{}, len(slice))
	result := make([]T, 0, len(slice))
	for _, v := range slice {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}

// TruncateString caps s at max runes; work-unit error messages use this so a
// long remote stack trace cannot blow up the row.
func TruncateString(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func ParseDecimal(value string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(value)
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	cleaned = strings.TrimSuffix(cleaned, "€")
	// Portuguese formatting: 1.234,56
	cleaned = strings.ReplaceAll(cleaned, ".", "")
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	return decimal.NewFromString(cleaned)
}

// ParsePortalTime parses the portal's dd-mm-yyyy hh:mm timestamps.
func ParsePortalTime(value string) (*time.Time, error) {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return nil, nil
	}
	for _, layout := range []string{"02-01-2006 15:04", "02-01-2006", "2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, cleaned); err == nil {
			return &t, nil
		}
	}
	return nil, &time.ParseError{Layout: "02-01-2006 15:04", Value: value}
}

func ProcessValidationErrors(err error) map[string]string {
	errorsMap := make(map[string]string)
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		for _, fieldError := range validationErrors {
			errorsMap[fieldError.Field()] = fieldError.Tag()
		}
	}
	return errorsMap
}
