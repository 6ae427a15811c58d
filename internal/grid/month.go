package grid

import "regexp"

var (
	isoMonthRe  = regexp.MustCompile(`^(\d{4})-(\d{2})$`)
	siteMonthRe = regexp.MustCompile(`^(\d{2})/(\d{4})$`)
)

// ToSiteMonth converts an ISO month key to the site's month token:
// "2023-01" -> "01/2023". Malformed input yields "".
// The month number is not range checked.
func ToSiteMonth(yearMonth string) string {
	m := isoMonthRe.FindStringSubmatch(yearMonth)
	if m == nil {
		return ""
	}
	return m[2] + "/" + m[1]
}

// FromSiteMonth is the inverse of ToSiteMonth: "01/2023" -> "2023-01".
func FromSiteMonth(token string) string {
	m := siteMonthRe.FindStringSubmatch(token)
	if m == nil {
		return ""
	}
	return m[2] + "-" + m[1]
}
