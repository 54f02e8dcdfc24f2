package inventory

import (
	"math"
	"strings"
)

// ParseInt parses the leading integer of s and returns 0 when there is none.
//
// Leading whitespace and a single sign are accepted, and parsing stops at the
// first non-digit, so "42", " 42", "42abc" and "42.9" all yield 42 while "",
// "abc" and "-" yield 0. Values beyond the int range saturate.
func ParseInt(s string) int {
	s = strings.TrimLeft(s, " \t\r\n")
	if s == "" {
		return 0
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			break
		}
		d := int(c - '0')
		if n > (math.MaxInt-d)/10 {
			n = math.MaxInt
			break
		}
		n = n*10 + d
	}

	if neg {
		return -n
	}
	return n
}
