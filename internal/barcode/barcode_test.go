package barcode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractDate(t *testing.T) {
	cases := []struct {
		code string
		want string
		ok   bool
	}{
		{"735820250912AW2", "2025-09-12", true},
		{"20240131X", "2024-01-31", true},
		{"X20230229", "", false},
		{"AB1234567", "", false},
		{"18991231", "", false},
		{"", "", false},
		{"9920240301", "2024-03-01", true},
	}
	for _, tc := range cases {
		got, ok := ExtractDate(tc.code)
		require.Equal(t, tc.ok, ok, tc.code)
		if tc.ok {
			assert.Equal(t, tc.want, got.Format("2006-01-02"), tc.code)
		}
	}
}

func TestAgeWeeks(t *testing.T) {
	planted := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, AgeWeeks(planted, planted.AddDate(0, 0, 6)))
	assert.Equal(t, 1, AgeWeeks(planted, planted.AddDate(0, 0, 7)))
	assert.Equal(t, 8, AgeWeeks(planted, planted.AddDate(0, 0, 62).Add(23*time.Hour)))
	assert.Equal(t, 0, AgeWeeks(planted, planted.AddDate(0, 0, -3)))
	assert.Equal(t, -1, AgeWeeks(planted, planted.AddDate(0, 0, -7)))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "7358AW2", Normalize("  73 58aw2\t"))
}

func TestDeduplicator(t *testing.T) {
	d := NewDeduplicator()
	d.Reserve("EXISTING")
	assert.Equal(t, "A", d.Next("A"))
	assert.Equal(t, "A_dup1", d.Next("A"))
	assert.Equal(t, "B", d.Next("B"))
	assert.Equal(t, "A_dup2", d.Next("A"))
	assert.Equal(t, "existing_dup1", d.Next("existing"))
	assert.Equal(t, 3, d.Renamed())

	d2 := NewDeduplicator()
	d2.Reserve("C_dup1")
	d2.Next("C")
	assert.Equal(t, "C_dup2", d2.Next("C"))
}
