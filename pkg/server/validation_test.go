package server

import (
	"net/url"
	"testing"
)

func TestValidateEmail_NormalizesAndRejectsMalformed(t *testing.T) {
	got, err := validateEmail("  User@Example.COM  ")
	if err != nil {
		t.Fatalf("validateEmail: %v", err)
	}
	if got != "user@example.com" {
		t.Fatalf("expected lowercased, trimmed email, got %q", got)
	}

	if _, err := validateEmail("not-an-email"); err == nil {
		t.Fatal("expected an error for a malformed email address")
	}
}

func TestValidatePassword_EnforcesComplexity(t *testing.T) {
	cases := map[string]bool{
		"short1!":        false, // too short
		"alllowercase1!": false, // no uppercase
		"ALLUPPERCASE1!": false, // no lowercase
		"NoDigitsHere!!": false, // no digit
		"NoSpecial1234":  false, // no special char
		"Valid1Pass!":    true,
	}
	for pw, wantOK := range cases {
		err := validatePassword(pw)
		if wantOK && err != nil {
			t.Errorf("validatePassword(%q): expected pass, got %v", pw, err)
		}
		if !wantOK && err == nil {
			t.Errorf("validatePassword(%q): expected failure, got nil", pw)
		}
	}
}

func TestValidateAmount_RejectsNonNumeric(t *testing.T) {
	if err := validateAmount("100.5"); err != nil {
		t.Fatalf("validateAmount(100.5): %v", err)
	}
	if err := validateAmount("-5"); err == nil {
		t.Fatal("expected negative amounts to be rejected")
	}
	if err := validateAmount("abc"); err == nil {
		t.Fatal("expected non-numeric amounts to be rejected")
	}
}

func TestValidateAddress_LowercasesValidHexAddress(t *testing.T) {
	got, err := validateAddress("0xABCDEF0123456789ABCDEF0123456789ABCDEF01")
	if err != nil {
		t.Fatalf("validateAddress: %v", err)
	}
	if got != "0xabcdef0123456789abcdef0123456789abcdef01" {
		t.Fatalf("expected lowercased address, got %q", got)
	}

	if _, err := validateAddress("0xtooshort"); err == nil {
		t.Fatal("expected a malformed address to be rejected")
	}
}

func TestValidateTOTP_RequiresExactlySixDigits(t *testing.T) {
	if err := validateTOTP("123456"); err != nil {
		t.Fatalf("validateTOTP(123456): %v", err)
	}
	if err := validateTOTP("12345"); err == nil {
		t.Fatal("expected a 5-digit code to be rejected")
	}
	if err := validateTOTP("abcdef"); err == nil {
		t.Fatal("expected non-numeric code to be rejected")
	}
}

func TestParsePagination_DefaultsAndBounds(t *testing.T) {
	p, err := parsePagination(url.Values{})
	if err != nil {
		t.Fatalf("parsePagination (empty): %v", err)
	}
	if p.Page != 1 || p.Limit != 20 {
		t.Fatalf("expected defaults page=1 limit=20, got %+v", p)
	}

	p, err = parsePagination(url.Values{"page": {"3"}, "limit": {"50"}})
	if err != nil {
		t.Fatalf("parsePagination (valid): %v", err)
	}
	if p.Page != 3 || p.Limit != 50 {
		t.Fatalf("expected page=3 limit=50, got %+v", p)
	}

	if _, err := parsePagination(url.Values{"page": {"0"}}); err == nil {
		t.Fatal("expected page=0 to be rejected")
	}
	if _, err := parsePagination(url.Values{"limit": {"101"}}); err == nil {
		t.Fatal("expected limit over 100 to be rejected")
	}
	if _, err := parsePagination(url.Values{"page": {"nope"}}); err == nil {
		t.Fatal("expected a non-numeric page to be rejected")
	}
}
