package validation

import "testing"

func TestIsValidAddress(t *testing.T) {
	valid := []string{
		"0x1234567890abcdef1234567890abcdef12345678",
		"0xABCDEF1234567890abcdef1234567890ABCDEF12",
	}
	for _, addr := range valid {
		if !IsValidAddress(addr) {
			t.Errorf("IsValidAddress(%q) = false, want true", addr)
		}
	}

	invalid := []string{
		"",
		"0x123",
		"1234567890abcdef1234567890abcdef12345678",    // no 0x
		"0x1234567890abcdef1234567890abcdef1234567g",  // non-hex
		"0x1234567890abcdef1234567890abcdef123456789", // too long
	}
	for _, addr := range invalid {
		if IsValidAddress(addr) {
			t.Errorf("IsValidAddress(%q) = true, want false", addr)
		}
	}
}

func TestSanitizeAddress(t *testing.T) {
	tests := []struct {
		in, out string
	}{
		{"  0xABCDEF1234567890abcdef1234567890ABCDEF12  ", "0xabcdef1234567890abcdef1234567890abcdef12"},
		{"abcdef1234567890abcdef1234567890abcdef12", "0xabcdef1234567890abcdef1234567890abcdef12"},
	}
	for _, tt := range tests {
		if got := SanitizeAddress(tt.in); got != tt.out {
			t.Errorf("SanitizeAddress(%q) = %q, want %q", tt.in, got, tt.out)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  hello\x00world  ", 100); got != "helloworld" {
		t.Errorf("SanitizeString = %q", got)
	}
	if got := SanitizeString("abcdef", 3); got != "abc" {
		t.Errorf("SanitizeString truncation = %q, want \"abc\"", got)
	}
}

func TestValidAmount(t *testing.T) {
	valid := []string{"1", "1.5", "0.000001", "1000.123456"}
	for _, v := range valid {
		if errs := Validate(ValidAmount("amount", v)); len(errs) != 0 {
			t.Errorf("ValidAmount(%q) unexpected errors: %v", v, errs)
		}
	}

	invalid := []string{"0", "0.000", "-1", "1.2.3", ".5", "5.", "abc"}
	for _, v := range invalid {
		if errs := Validate(ValidAmount("amount", v)); len(errs) == 0 {
			t.Errorf("ValidAmount(%q) expected errors, got none", v)
		}
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	errs := Validate(
		Required("payer", ""),
		ValidAddress("payee", "not-an-address"),
		ValidAmount("amount", "0"),
	)
	if len(errs) != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", len(errs), errs)
	}
	if errs.Error() != "payer: is required" {
		t.Errorf("Error() = %q", errs.Error())
	}
}
