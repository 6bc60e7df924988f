package handlers

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxNameLength = 100

func validateProfileUpdateRequest(req updateProfileRequest) string {
	if req.FirstName == nil && req.LastName == nil {
		return "first_name or last_name is required"
	}
	if req.FirstName != nil {
		if strings.TrimSpace(*req.FirstName) == "" {
			return "first_name must not be empty"
		}
		if err := validateName("first_name", *req.FirstName); err != "" {
			return err
		}
	}
	if req.LastName != nil {
		if err := validateName("last_name", *req.LastName); err != "" {
			return err
		}
	}
	return ""
}

func validateName(field, value string) string {
	if utf8.RuneCountInString(strings.TrimSpace(value)) > maxNameLength {
		return field + " must be at most 100 characters"
	}
	for _, r := range value {
		if unicode.IsControl(r) {
			return field + " must not contain control characters"
		}
	}
	return ""
}
