package convo

import (
	"regexp"
	"strings"
)

var kenyanMobileRegex = regexp.MustCompile(`^(07|01)\d{8}$`)

// NormalizeKenyanPhone converts a local Kenyan mobile number such as
// 0712345678 into international +254 form. It returns false when the
// input is not a valid local mobile number.
func NormalizeKenyanPhone(raw string) (string, bool) {
	cleaned := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(raw))
	if !kenyanMobileRegex.MatchString(cleaned) {
		return "", false
	}
	return "+254" + cleaned[1:], true
}
