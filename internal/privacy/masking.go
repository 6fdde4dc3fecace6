package privacy

import (
	"fmt"
	"strings"

	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/constants"
)

// MaskPhoneNumber masks a phone number showing only the last 4 digits
// Example: "+15145550199" -> "+*******0199"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	if strings.HasPrefix(phone, "+") {
		return "+" + maskString(phone[1:], constants.DefaultPhoneMaskLength)
	}
	return maskString(phone, constants.DefaultPhoneMaskLength)
}

// MaskConversation masks both numbers of a "did:contact" conversation key.
func MaskConversation(did, contact string) string {
	return MaskPhoneNumber(did) + ":" + MaskPhoneNumber(contact)
}

// MaskMessageText replaces message content with its length.
func MaskMessageText(text string) string {
	if text == "" {
		return ""
	}
	return fmt.Sprintf("[%d chars]", len([]rune(text)))
}

// MaskCredential hides a credential entirely, keeping only whether it is set.
func MaskCredential(value string) string {
	if value == "" {
		return ""
	}
	return "[redacted]"
}

// MaskUsername keeps the first character and the domain of an e-mail style
// account name.
// Example: "alice@example.com" -> "a****@example.com"
func MaskUsername(username string) string {
	if username == "" {
		return ""
	}
	local, domain, hasDomain := strings.Cut(username, "@")
	runes := []rune(local)
	if len(runes) == 0 {
		return username
	}
	masked := string(runes[:1]) + strings.Repeat("*", len(runes)-1)
	if hasDomain {
		return masked + "@" + domain
	}
	return masked
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}

	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}

	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, isString := v.(string)
		if !isString {
			masked[k] = v
			continue
		}
		switch k {
		case "did", "contact", "dst", "phone", "phone_number":
			masked[k] = MaskPhoneNumber(s)
		case "text", "message", "draft":
			masked[k] = MaskMessageText(s)
		case "username", "api_username":
			masked[k] = MaskUsername(s)
		case "password", "api_password", "passphrase":
			masked[k] = MaskCredential(s)
		default:
			masked[k] = v
		}
	}

	return masked
}
