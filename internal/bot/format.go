package bot

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

func formatEUR(v float64) string {
	return fmt.Sprintf("€%.2f", v)
}

func formatSignedEUR(v float64) string {
	if v >= 0 {
		return fmt.Sprintf("+€%.2f", v)
	}
	return fmt.Sprintf("-€%.2f", -v)
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatPercent(v float64) string {
	return fmt.Sprintf("%+.2f%%", v)
}

func title(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func displayName(username string, id int64) string {
	if username != "" {
		return "@" + strings.TrimPrefix(username, "@")
	}
	return strconv.FormatInt(id, 10)
}

// parseAmount accepts both "1.5" and "1,5".
func parseAmount(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64)
}
