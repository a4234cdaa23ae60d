package settings

import "strings"

const maskPrefix = "****"

// MaskSecret renders a secret for the wire: four asterisks followed by the
// last four runes. Secrets of four runes or fewer mask entirely, and empty
// stays empty so the UI can tell "unset" from "set".
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	runes := []rune(secret)
	if len(runes) <= 4 {
		return maskPrefix
	}
	return maskPrefix + string(runes[len(runes)-4:])
}

// IsMasked reports whether a value is a masked rendering rather than a real
// secret. Updates carrying a masked value keep the stored secret.
func IsMasked(value string) bool {
	return strings.HasPrefix(value, maskPrefix)
}
