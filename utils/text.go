package utils

// TruncateRunes 按字符截断，超出 limit 时追加 suffix
func TruncateRunes(s string, limit int, suffix string) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + suffix
}
