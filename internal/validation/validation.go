package validation

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/constants"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/errors"

	"github.com/ttacon/libphonenumber"
)

// Short codes are dialled as-is and never carry a country code.
const (
	minShortCodeDigits = 3
	maxShortCodeDigits = 6
)

// NormalizePhoneNumber parses a user supplied number and returns it in the
// form the VoIP.ms API uses: ten digits for NANP numbers, the E.164 digits
// without the plus sign otherwise. SMS short codes are returned unchanged.
func NormalizePhoneNumber(raw, region string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.NewValidationError("phone", "phone number cannot be empty")
	}

	digits := digitsOnly(trimmed)
	if digits == "" {
		return "", errors.NewValidationError("phone", "phone number must contain digits")
	}
	if !strings.HasPrefix(trimmed, "+") && len(digits) >= minShortCodeDigits && len(digits) <= maxShortCodeDigits {
		return digits, nil
	}

	if region == "" {
		region = constants.DefaultPhoneRegion
	}
	num, err := libphonenumber.Parse(trimmed, region)
	if err != nil {
		return "", errors.NewValidationError("phone", fmt.Sprintf("cannot parse %q: %v", raw, err))
	}
	if !libphonenumber.IsValidNumber(num) {
		return "", errors.NewValidationError("phone", fmt.Sprintf("%q is not a valid phone number", raw))
	}

	if num.GetCountryCode() == 1 {
		return strconv.FormatUint(num.GetNationalNumber(), 10), nil
	}
	return strings.TrimPrefix(libphonenumber.Format(num, libphonenumber.E164), "+"), nil
}

// CanonicalizeNumber reduces a number received from the API to digits and
// drops the NANP trunk prefix. Unlike NormalizePhoneNumber it never fails,
// since the API is the source of truth for numbers it reports.
func CanonicalizeNumber(raw string) string {
	digits := digitsOnly(raw)
	if len(digits) == 11 && digits[0] == '1' {
		return digits[1:]
	}
	return digits
}

// FormatForDisplay renders a stored number for people, falling back to the
// stored form when it cannot be parsed.
func FormatForDisplay(number, region string) string {
	if number == "" {
		return ""
	}
	if region == "" {
		region = constants.DefaultPhoneRegion
	}

	candidate := number
	if len(number) > 10 && !strings.HasPrefix(number, "+") && !strings.HasPrefix(number, "1") {
		candidate = "+" + number
	}
	num, err := libphonenumber.Parse(candidate, region)
	if err != nil || !libphonenumber.IsValidNumber(num) {
		return number
	}
	if num.GetCountryCode() == 1 {
		return libphonenumber.Format(num, libphonenumber.NATIONAL)
	}
	return libphonenumber.Format(num, libphonenumber.INTERNATIONAL)
}

// ValidateMessageText checks text about to be sent.
func ValidateMessageText(text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.NewValidationError("text", "message text cannot be empty")
	}
	if strings.ContainsRune(text, '\x00') {
		return errors.NewValidationError("text", "message text contains NUL character")
	}
	if n := len([]rune(text)); n > constants.MaxMessageTextLength {
		return errors.NewValidationError("text",
			fmt.Sprintf("message text too long: %d characters (max %d)", n, constants.MaxMessageTextLength))
	}
	return nil
}

// ValidateDraftText checks text saved as a draft; empty drafts are allowed.
func ValidateDraftText(text string) error {
	if strings.ContainsRune(text, '\x00') {
		return errors.NewValidationError("text", "draft contains NUL character")
	}
	if n := len([]rune(text)); n > constants.MaxMessageTextLength {
		return errors.NewValidationError("text",
			fmt.Sprintf("draft too long: %d characters (max %d)", n, constants.MaxMessageTextLength))
	}
	return nil
}

// ValidateDate parses a YYYY-MM-DD configuration date.
func ValidateDate(value, fieldName string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", value, time.UTC)
	if err != nil {
		return time.Time{}, errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s must be a YYYY-MM-DD date", fieldName))
	}
	return t, nil
}

// ValidateHTTPRequestSize validates incoming HTTP request size
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength > maxSizeBytes {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("request too large: %d bytes (max %d bytes)", r.ContentLength, maxSizeBytes)).
			WithUserMessage("Request body too large")
	}

	return nil
}

// ValidateNumericRange validates numeric values against bounds
func ValidateNumericRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too small (min %d)", fieldName, min))
	}

	if value > max {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max %d)", fieldName, max))
	}

	return nil
}

// ValidateTimeout validates timeout values
func ValidateTimeout(timeoutSec int, fieldName string) error {
	if timeoutSec < 1 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s must be at least 1 second", fieldName))
	}

	if timeoutSec > 3600 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max 3600 seconds)", fieldName))
	}

	return nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	return b.String()
}
