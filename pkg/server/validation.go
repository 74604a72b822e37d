package server

import (
	"fmt"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
)

// validationError marks malformed input, distinct from a domain.DomainRejection
// (well-formed input the current state forbids) — both map to HTTP 400 but
// validationError never carries a stable machine-readable code.
type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func errValidation(format string, args ...interface{}) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

var (
	passwordUpper   = regexp.MustCompile(`[A-Z]`)
	passwordLower   = regexp.MustCompile(`[a-z]`)
	passwordDigit   = regexp.MustCompile(`[0-9]`)
	passwordSpecial = regexp.MustCompile(`[^A-Za-z0-9]`)

	amountPattern  = regexp.MustCompile(`^\d+(\.\d+)?$`)
	addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	totpPattern    = regexp.MustCompile(`^\d{6}$`)
)

func validateEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return "", errValidation("invalid email address")
	}
	return email, nil
}

func validatePassword(password string) error {
	if len(password) < 8 {
		return errValidation("password must be at least 8 characters")
	}
	if !passwordUpper.MatchString(password) || !passwordLower.MatchString(password) ||
		!passwordDigit.MatchString(password) || !passwordSpecial.MatchString(password) {
		return errValidation("password must contain an uppercase letter, a lowercase letter, a digit, and a special character")
	}
	return nil
}

func validateAmount(raw string) error {
	if !amountPattern.MatchString(raw) {
		return errValidation("amount must be a non-negative decimal string")
	}
	return nil
}

// validateAddress lowercases and validates an Ethereum-style address,
// per the external-interface rule that addresses are stored lowercased.
func validateAddress(raw string) (string, error) {
	if !addressPattern.MatchString(raw) {
		return "", errValidation("invalid address format")
	}
	return strings.ToLower(raw), nil
}

func validateTOTP(code string) error {
	if !totpPattern.MatchString(code) {
		return errValidation("totp code must be exactly 6 digits")
	}
	return nil
}

// pagination holds the parsed/validated page and limit query parameters,
// shared by every paginated admin listing endpoint.
type pagination struct {
	Page  int
	Limit int
}

func parsePagination(q interface{ Get(string) string }) (pagination, error) {
	p := pagination{Page: 1, Limit: 20}
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return p, errValidation("page must be >= 1")
		}
		p.Page = n
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			return p, errValidation("limit must be between 1 and 100")
		}
		p.Limit = n
	}
	return p, nil
}
