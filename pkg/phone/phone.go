// Package phone normalizes the phone formats WhatsApp transports deliver.
//
// Mexican mobile numbers show up in three shapes for the same line: the bare
// 10-digit national number, "52" + 10 digits, and the legacy "521" + 10 digits.
// Canonical picks "52" + 10 digits for all of them.
package phone

import "strings"

const (
	CountryCodeMX = "52"
	// MobilePrefixMX is the extra digit older WhatsApp clients put after the country code.
	MobilePrefixMX = "1"
	NationalLen    = 10
)

// Digits strips everything that is not an ASCII digit.
func Digits(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Suffix returns the last 10 digits, or "" when there are fewer.
func Suffix(raw string) string {
	d := Digits(raw)
	if len(d) < NationalLen {
		return ""
	}
	return d[len(d)-NationalLen:]
}

func isMexican(d string) bool {
	switch len(d) {
	case NationalLen:
		return true
	case NationalLen + 2:
		return strings.HasPrefix(d, CountryCodeMX)
	case NationalLen + 3:
		return strings.HasPrefix(d, CountryCodeMX+MobilePrefixMX)
	}
	return false
}

// Canonical returns the stable key for a phone number.
func Canonical(raw string) string {
	d := Digits(raw)
	if isMexican(d) {
		return CountryCodeMX + d[len(d)-NationalLen:]
	}
	return d
}

// Variants lists the format variants that may already be indexed for raw,
// starting with the stripped digits themselves. Duplicates are removed.
func Variants(raw string) []string {
	d := Digits(raw)
	if d == "" {
		return nil
	}
	out := []string{d}
	if len(d) < NationalLen {
		return out
	}
	national := d[len(d)-NationalLen:]
	for _, v := range []string{
		national,
		CountryCodeMX + national,
		CountryCodeMX + MobilePrefixMX + national,
	} {
		if !contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Valid reports whether raw carries enough digits to be a dialable number.
func Valid(raw string) bool {
	n := len(Digits(raw))
	return n >= NationalLen && n <= 15
}
