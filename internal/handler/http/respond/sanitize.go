package respond

import (
	"regexp"
)

var (
	// Embedding provider keys (OpenAI and SiliconFlow both use the sk- prefix)
	apiKeyPattern = regexp.MustCompile(`sk-[a-zA-Z0-9_-]{10,}`)

	// Authorization header values echoed back by HTTP clients
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._~+/=-]+`)

	// Passwords inside postgres:// and redis:// DSNs
	dsnPasswordPattern = regexp.MustCompile(`://([^:/@]*):([^@]+)@`)
)

// SanitizeError returns the error message with credentials masked.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	msg = apiKeyPattern.ReplaceAllString(msg, "sk-****")
	msg = bearerPattern.ReplaceAllString(msg, "Bearer ****")
	msg = dsnPasswordPattern.ReplaceAllString(msg, "://$1:****@")
	return msg
}
