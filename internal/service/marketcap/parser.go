package marketcap

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseError reports a malformed market-cap magnitude string.
type ParseError struct {
	Input string
	Msg   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("market cap parse %q: %s", e.Input, e.Msg)
}

// suffix multipliers, case-insensitive
var scales = map[byte]float64{
	'T': 1e12,
	'B': 1e9,
	'M': 1e6,
	'K': 1e3,
}

// Parse converts a textual magnitude ("4.1T", "2.5B", "500M", "1,234,567",
// "$950.2K", "12345678") into a canonical non-negative value. Pure: no I/O.
func Parse(input string) (float64, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return 0, &ParseError{Input: input, Msg: "empty"}
	}

	// strip leading currency markers
	s = strings.TrimLeft(s, "$€£¥ ")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, &ParseError{Input: input, Msg: "no digits"}
	}

	scale := 1.0
	last := s[len(s)-1]
	if last >= 'a' && last <= 'z' {
		last -= 'a' - 'A'
	}
	if mult, ok := scales[last]; ok {
		scale = mult
		s = s[:len(s)-1]
	} else if last < '0' || last > '9' {
		return 0, &ParseError{Input: input, Msg: "unrecognized suffix"}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &ParseError{Input: input, Msg: "not numeric"}
	}
	if v < 0 {
		return 0, &ParseError{Input: input, Msg: "negative"}
	}
	return v * scale, nil
}

// ParseAny accepts raw numeric payloads alongside strings; JSON decoders
// hand back float64 for numbers.
func ParseAny(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		if x < 0 {
			return 0, &ParseError{Input: fmt.Sprintf("%v", x), Msg: "negative"}
		}
		return x, nil
	case int:
		return ParseAny(float64(x))
	case int64:
		return ParseAny(float64(x))
	case string:
		return Parse(x)
	case nil:
		return 0, &ParseError{Input: "", Msg: "empty"}
	default:
		return 0, &ParseError{Input: fmt.Sprintf("%v", v), Msg: "unsupported type"}
	}
}
