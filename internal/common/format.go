// Package common — format.go: числа для людей (логи, выписки, CLI).
package common

import "strconv"

// FormatNumber форматирует число с разделителями тысяч (пробелами).
// Пример: FormatNumber(2350) → "2 350"
func FormatNumber(n int64) string {
	if n < 0 {
		return "-" + FormatNumber(-n)
	}
	if n < 1000 {
		return strconv.FormatInt(n, 10)
	}

	rest, last := n/1000, n%1000
	s := strconv.FormatInt(last, 10)
	for len(s) < 3 {
		s = "0" + s
	}
	return FormatNumber(rest) + " " + s
}

// FormatSigned — сумма со знаком: "+1 500", "-50", "0".
func FormatSigned(amount int64) string {
	if amount > 0 {
		return "+" + FormatNumber(amount)
	}
	return FormatNumber(amount)
}
