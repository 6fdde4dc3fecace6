package validation

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhoneNumber(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		region  string
		want    string
		wantErr bool
	}{
		{name: "formatted NANP", input: "(202) 555-0123", want: "2025550123"},
		{name: "NANP with trunk prefix", input: "1-202-555-0123", want: "2025550123"},
		{name: "E.164 NANP", input: "+12025550123", want: "2025550123"},
		{name: "international", input: "+44 121 234 5678", want: "441212345678"},
		{name: "national with region", input: "0121 234 5678", region: "GB", want: "441212345678"},
		{name: "short code", input: "12345", want: "12345"},
		{name: "empty", input: "  ", wantErr: true},
		{name: "letters only", input: "call me", wantErr: true},
		{name: "too short", input: "+1 202", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePhoneNumber(tt.input, tt.region)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.HasCode(err, errors.ErrCodeValidationFailed))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalizeNumber(t *testing.T) {
	assert.Equal(t, "2025550123", CanonicalizeNumber("12025550123"))
	assert.Equal(t, "2025550123", CanonicalizeNumber("+1 (202) 555-0123"))
	assert.Equal(t, "2025550123", CanonicalizeNumber("2025550123"))
	assert.Equal(t, "441212345678", CanonicalizeNumber("441212345678"))
	assert.Equal(t, "12345", CanonicalizeNumber("12345"))
}

func TestFormatForDisplay(t *testing.T) {
	assert.Equal(t, "(202) 555-0123", FormatForDisplay("2025550123", ""))
	assert.Equal(t, "+44 121 234 5678", FormatForDisplay("441212345678", ""))
	assert.Equal(t, "12345", FormatForDisplay("12345", ""))
	assert.Equal(t, "", FormatForDisplay("", ""))
}

func TestValidateMessageText(t *testing.T) {
	assert.NoError(t, ValidateMessageText("hello"))
	assert.Error(t, ValidateMessageText(""))
	assert.Error(t, ValidateMessageText(" \n\t"))
	assert.Error(t, ValidateMessageText("bad\x00byte"))
	assert.Error(t, ValidateMessageText(strings.Repeat("a", 1601)))
	assert.NoError(t, ValidateMessageText(strings.Repeat("é", 1600)))
}

func TestValidateDraftText(t *testing.T) {
	assert.NoError(t, ValidateDraftText(""))
	assert.NoError(t, ValidateDraftText("half a thought"))
	assert.Error(t, ValidateDraftText("bad\x00byte"))
}

func TestValidateDate(t *testing.T) {
	d, err := ValidateDate("2008-01-01", "start_date")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2008, 1, 1, 0, 0, 0, 0, time.UTC), d)

	_, err = ValidateDate("01/01/2008", "start_date")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start_date")
}

func TestValidateHTTPRequestSize(t *testing.T) {
	small := httptest.NewRequest("POST", "/", strings.NewReader("{}"))
	assert.NoError(t, ValidateHTTPRequestSize(small, 1024))

	large := httptest.NewRequest("POST", "/", strings.NewReader(strings.Repeat("x", 2048)))
	assert.Error(t, ValidateHTTPRequestSize(large, 1024))
}

func TestValidateNumericRange(t *testing.T) {
	assert.NoError(t, ValidateNumericRange(90, "chunk_days", 1, 92))
	assert.Error(t, ValidateNumericRange(0, "chunk_days", 1, 92))
	assert.Error(t, ValidateNumericRange(93, "chunk_days", 1, 92))
}

func TestValidateTimeout(t *testing.T) {
	assert.NoError(t, ValidateTimeout(60, "timeout"))
	assert.Error(t, ValidateTimeout(0, "timeout"))
	assert.Error(t, ValidateTimeout(3601, "timeout"))
}
