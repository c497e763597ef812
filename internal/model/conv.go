package model

import "strconv"

// Itoa is a minimal int-to-string converter used when building keys and labels.
func Itoa(n int) string {
	if n == 0 {
		return "0"
	}
	buf := [20]byte{}
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// WindowLabel joins an indicator prefix and its window, e.g. ("ma", 5) → "ma5".
func WindowLabel(prefix string, window int) string {
	return prefix + Itoa(window)
}

// FormatPrice renders a price with three decimals, the precision bars are stored with.
func FormatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
