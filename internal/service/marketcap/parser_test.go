package marketcap

import (
	"errors"
	"math"
	"testing"
)

func TestParseSuffixes(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"4.1T", 4.1e12},
		{"2.5B", 2.5e9},
		{"500M", 500e6},
		{"950.2K", 950.2e3},
		{"3.2t", 3.2e12},
		{"7b", 7e9},
		{"$1.5B", 1.5e9},
		{"1,234,567", 1234567},
		{"12345678", 12345678},
		{"0", 0},
		{" 2.5B ", 2.5e9},
	}
	for _, c := range cases {
		got, err := Parse(c.in)
		if err != nil {
			t.Fatalf("Parse(%q): unexpected error %v", c.in, err)
		}
		if math.Abs(got-c.want) > c.want*1e-12 {
			t.Fatalf("Parse(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	for _, in := range []string{"", "   ", "abc", "1.2X", "B", "$", "-5M", "1.2.3B"} {
		_, err := Parse(in)
		if err == nil {
			t.Fatalf("Parse(%q): expected error", in)
		}
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("Parse(%q): expected ParseError, got %T", in, err)
		}
	}
}

func TestParseAny(t *testing.T) {
	if v, err := ParseAny(float64(3.1e12)); err != nil || v != 3.1e12 {
		t.Fatalf("ParseAny(float64) = %v, %v", v, err)
	}
	if v, err := ParseAny("2.5B"); err != nil || v != 2.5e9 {
		t.Fatalf("ParseAny(string) = %v, %v", v, err)
	}
	if _, err := ParseAny(nil); err == nil {
		t.Fatalf("ParseAny(nil): expected error")
	}
	if _, err := ParseAny(float64(-1)); err == nil {
		t.Fatalf("ParseAny(-1): expected error")
	}
}
