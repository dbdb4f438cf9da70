package phonegate

import (
	"strconv"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// normalizePhoneNumber parses a raw phone number with an ISO 3166-1
// alpha-2 region hint ("US", "ID", ...) and returns the E.164 form.
// Numbers that parse but fail metadata validation are rejected.
func normalizePhoneNumber(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidInput
	}
	// Some clients prepend the country code to an already-international
	// number; keep only the last "+" group.
	if parts := strings.Split(raw, "+"); len(parts) == 3 {
		raw = "+" + parts[2]
	}

	parsed, err := phonenumbers.Parse(raw, strings.ToUpper(strings.TrimSpace(region)))
	if err != nil {
		return "", ErrInvalidInput
	}
	if !phonenumbers.IsValidNumber(parsed) {
		return "", ErrInvalidInput
	}

	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}

// maskPhoneNumber renders an E.164 number for display, keeping the
// country code and the last four digits: "+15551234567" -> "+1***4567".
func maskPhoneNumber(e164 string) string {
	parsed, err := phonenumbers.Parse(e164, "")
	if err != nil {
		// Last resort for non-parseable stored values.
		if len(e164) > 4 {
			return "***" + e164[len(e164)-4:]
		}
		return "***"
	}

	national := strconv.FormatUint(parsed.GetNationalNumber(), 10)
	tail := national
	if len(tail) > 4 {
		tail = tail[len(tail)-4:]
	}
	return "+" + strconv.FormatInt(int64(parsed.GetCountryCode()), 10) + "***" + tail
}

// isVerificationCode reports whether code is exactly digits numeric
// characters. Checked before any session or provider interaction.
func isVerificationCode(code string, digits int) bool {
	if len(code) != digits {
		return false
	}
	return isNumericString(code)
}

func isNumericString(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
