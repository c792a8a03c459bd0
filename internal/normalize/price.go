package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	currencyMark = `(?:([$€£])\s*|\b(USD|CAD|AUD|EUR|GBP)\s*)`

	// Grouped thousands ("1,250.50") are tried before a decimal comma ("8,50").
	amount = `(\d{1,3}(?:,\d{3})+(?:\.\d{1,2})?|\d{1,6}(?:[.,]\d{1,2})?)`
)

var groupedRe = regexp.MustCompile(`^\d{1,3}(?:,\d{3})+(?:\.\d{1,2})?$`)

var priceRe = regexp.MustCompile(`(?i)` + currencyMark + `?` + amount +
	`(?:\s*(?:-|–|/|\bto\b)\s*(?:[$€£]\s*|\b(?:USD|CAD|AUD|EUR|GBP)\s*)?` + amount + `)?`)

// Price is a parsed ticket price range in minor currency units.
type Price struct {
	MinCents *int64
	MaxCents *int64
	Currency string
}

// ParsePrice scans free text for a single amount or a range such as
// "$15-$20", "£8 / £10" or "12 to 15 EUR". Amounts carrying a currency
// mark win over bare numbers, and bare numbers followed by "+" are age
// limits, not prices. Text without a usable amount yields an empty Price.
func ParsePrice(text, defaultCurrency string) Price {
	matches := priceRe.FindAllStringSubmatchIndex(text, -1)
	var pick []int
	for _, m := range matches {
		if m[2] >= 0 || m[4] >= 0 {
			pick = m
			break
		}
	}
	if pick == nil {
		for _, m := range matches {
			if m[1] < len(text) && text[m[1]] == '+' {
				continue
			}
			if m[1] < len(text) && strings.HasPrefix(strings.ToLower(strings.TrimSpace(text[m[1]:])), "and over") {
				continue
			}
			pick = m
			break
		}
	}
	if pick == nil {
		return Price{}
	}

	lo, ok := toCents(text[pick[6]:pick[7]])
	if !ok {
		return Price{}
	}
	hi := lo
	if pick[8] >= 0 {
		if v, ok := toCents(text[pick[8]:pick[9]]); ok {
			hi = v
		}
	} else if pick[2] >= 0 || pick[4] >= 0 {
		// "$15 adv / $20 dos": later marked amounts widen the range.
		for _, m := range matches {
			if m[0] <= pick[0] || (m[2] < 0 && m[4] < 0) {
				continue
			}
			if v, ok := toCents(text[m[6]:m[7]]); ok && v > hi {
				hi = v
			}
		}
	}
	if hi < lo {
		lo, hi = hi, lo
	}

	cur := strings.ToUpper(strings.TrimSpace(defaultCurrency))
	switch {
	case pick[2] >= 0:
		switch text[pick[2]:pick[3]] {
		case "€":
			cur = "EUR"
		case "£":
			cur = "GBP"
		}
	case pick[4] >= 0:
		cur = strings.ToUpper(text[pick[4]:pick[5]])
	default:
		if code := trailingCode(text[pick[1]:]); code != "" {
			cur = code
		}
	}
	return Price{MinCents: &lo, MaxCents: &hi, Currency: cur}
}

var trailingCodeRe = regexp.MustCompile(`(?i)^\s*(USD|CAD|AUD|EUR|GBP)\b`)

func trailingCode(s string) string {
	if m := trailingCodeRe.FindStringSubmatch(s); m != nil {
		return strings.ToUpper(m[1])
	}
	return ""
}

// toCents converts "15", "15.5", "15,50" or "1,250.50" without going
// through float64.
func toCents(s string) (int64, bool) {
	if groupedRe.MatchString(s) {
		s = strings.ReplaceAll(s, ",", "")
	}
	whole, frac, _ := strings.Cut(strings.ReplaceAll(s, ",", "."), ".")
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, false
	}
	var f int64
	switch len(frac) {
	case 0:
	case 1:
		n, _ := strconv.ParseInt(frac, 10, 64)
		f = n * 10
	default:
		n, _ := strconv.ParseInt(frac[:2], 10, 64)
		f = n
	}
	return w*100 + f, true
}
