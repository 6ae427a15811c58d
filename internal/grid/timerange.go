package grid

import (
	"fmt"
	"regexp"
	"strconv"
)

// timeRangeRe matches "13.00-20.45"; minutes must be exactly two digits.
var timeRangeRe = regexp.MustCompile(`(\d{1,2})\.(\d{2})-(\d{1,2})\.(\d{2})`)

// ExtractTimeRange pulls the first "H.MM-H.MM" range out of s and returns it
// as zero-padded "HH:MM" strings. Any failure yields ("", "").
//
//	ExtractTimeRange("1.00-02.00") == ("01:00", "02:00")
func ExtractTimeRange(s string) (start, end string) {
	m := timeRangeRe.FindStringSubmatch(s)
	if m == nil {
		return "", ""
	}

	var n [4]int
	for i := range n {
		v, err := strconv.Atoi(m[i+1])
		if err != nil {
			return "", ""
		}
		n[i] = v
	}

	if !validClock(n[0], n[1]) || !validClock(n[2], n[3]) {
		return "", ""
	}
	return fmt.Sprintf("%02d:%02d", n[0], n[1]), fmt.Sprintf("%02d:%02d", n[2], n[3])
}

func validClock(h, m int) bool {
	return h >= 0 && h <= 23 && m >= 0 && m <= 59
}
