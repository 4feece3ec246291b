package credential

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// PINLength is the number of digits in a PIN.
const PINLength = 4

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	// Kenyan mobile numbers: +254 or a leading 0, carrier digit 1 or 7, then 8 digits.
	phonePattern = regexp.MustCompile(`^(\+254|0)[17]\d{8}$`)
)

// ValidEmail reports whether s looks like local@domain.tld.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// ValidPhone reports whether s is a recognised mobile number.
func ValidPhone(s string) bool {
	return phonePattern.MatchString(s)
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// checkSignupDetails stops at the first failing field: name, email, phone.
func checkSignupDetails(f Form) *Failure {
	if strings.TrimSpace(f.Name) == "" {
		return fail(KindValidation, msgNameRequired)
	}
	if !ValidEmail(strings.TrimSpace(f.Email)) {
		return fail(KindValidation, msgInvalidEmail)
	}
	if !ValidPhone(strings.TrimSpace(f.MobileNumber)) {
		return fail(KindValidation, msgInvalidPhone)
	}
	return nil
}

func checkNewPIN(pin, confirm string) *Failure {
	if utf8.RuneCountInString(pin) != PINLength {
		return fail(KindValidation, msgPINLength)
	}
	if !allDigits(pin) {
		return fail(KindValidation, msgPINDigits)
	}
	if pin != confirm {
		return fail(KindValidation, msgPINMismatch)
	}
	return nil
}

func checkPIN(pin string) *Failure {
	if utf8.RuneCountInString(pin) != PINLength {
		return fail(KindValidation, msgPINEntry)
	}
	if !allDigits(pin) {
		return fail(KindValidation, msgPINDigits)
	}
	return nil
}
