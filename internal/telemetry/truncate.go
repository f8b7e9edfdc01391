package telemetry

import "unicode/utf8"

// Truncate обрезает s не длиннее maxLen байт и добавляет "...".
// Граница обреза не попадает внутрь UTF-8 символа.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
