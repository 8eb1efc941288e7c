package passwordx

import "strings"

// commonPasswords is the embedded deny list of frequently breached
// passwords, checked case-insensitively. Intentionally small; the policy's
// other rules reject most of the long tail anyway.
var commonPasswords = map[string]struct{}{}

func init() {
	for _, p := range []string{
		"password", "password1", "password123", "passw0rd", "p@ssw0rd",
		"123456", "1234567", "12345678", "123456789", "1234567890",
		"qwerty", "qwerty123", "qwertyuiop", "abc123", "letmein",
		"welcome", "welcome1", "admin", "admin123", "root",
		"iloveyou", "monkey", "dragon", "sunshine", "princess",
		"football", "baseball", "superman", "batman", "trustno1",
		"master", "shadow", "freedom", "000000", "111111",
		"654321", "zaq12wsx", "1q2w3e4r", "qazwsx", "secret",
	} {
		commonPasswords[p] = struct{}{}
	}
}

func isCommon(password string) bool {
	_, ok := commonPasswords[strings.ToLower(password)]
	return ok
}
