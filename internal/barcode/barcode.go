// Package barcode normalizes lab barcodes, derives planting dates from the
// embedded YYYYMMDD stamp, and renames duplicates.
package barcode

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

const (
	minYear = 1990
	maxYear = 2100
)

// Normalize trims the scan, drops inner whitespace and upper-cases it.
func Normalize(scan string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, scan)
}

// ExtractDate scans every 8-digit window left to right and returns the first
// one that is a valid calendar date with a plausible year.
//
// 735820250912AW2 holds the stamp 20250912 even though the leftmost digit
// window (73582025) is not a date.
func ExtractDate(code string) (time.Time, bool) {
	b := []byte(code)
	for i := 0; i+8 <= len(b); i++ {
		if !allDigits(b[i : i+8]) {
			continue
		}
		t, err := time.Parse("20060102", string(b[i:i+8]))
		if err != nil {
			continue
		}
		if t.Year() < minYear || t.Year() > maxYear {
			continue
		}
		return t, true
	}
	return time.Time{}, false
}

func allDigits(b []byte) bool {
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// AgeWeeks returns the whole number of weeks between planted and ref,
// truncated toward zero.
func AgeWeeks(planted, ref time.Time) int {
	days := int(dayStart(ref).Sub(dayStart(planted)).Hours() / 24)
	return days / 7
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Deduplicator hands out unique barcodes: the first occurrence keeps its
// code, the n-th repeat becomes "<code>_dup<n>".
type Deduplicator struct {
	seen    map[string]int
	renamed int
}

// NewDeduplicator returns an empty deduplicator. Codes already stored can be
// registered with Reserve so imported rows never collide with them.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{seen: make(map[string]int)}
}

// Reserve marks code as taken without counting it as a duplicate.
func (d *Deduplicator) Reserve(code string) {
	key := strings.ToUpper(code)
	if _, ok := d.seen[key]; !ok {
		d.seen[key] = 0
	}
}

// Next returns the unique form of code.
func (d *Deduplicator) Next(code string) string {
	key := strings.ToUpper(code)
	n, ok := d.seen[key]
	if !ok {
		d.seen[key] = 0
		return code
	}
	for {
		n++
		candidate := fmt.Sprintf("%s_dup%d", code, n)
		if _, taken := d.seen[strings.ToUpper(candidate)]; taken {
			continue
		}
		d.seen[key] = n
		d.seen[strings.ToUpper(candidate)] = 0
		d.renamed++
		return candidate
	}
}

// Renamed reports how many codes were suffixed.
func (d *Deduplicator) Renamed() int { return d.renamed }
