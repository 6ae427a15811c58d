package grid

// dayByCode maps the site's encoded day (122 units per day, starting at 1)
// to a two-digit day of month. The encoding is undocumented upstream; if it
// changes, replace this table wholesale.
var dayByCode = map[int]string{
	1:    "01",
	123:  "02",
	245:  "03",
	367:  "04",
	489:  "05",
	611:  "06",
	733:  "07",
	855:  "08",
	977:  "09",
	1099: "10",
	1221: "11",
	1343: "12",
	1465: "13",
	1587: "14",
	1709: "15",
	1831: "16",
	1953: "17",
	2075: "18",
	2197: "19",
	2319: "20",
	2441: "21",
	2563: "22",
	2685: "23",
	2807: "24",
	2929: "25",
	3051: "26",
	3173: "27",
	3295: "28",
	3417: "29",
	3539: "30",
	3661: "31",
}

// DayOfMonth resolves an encoded day. Unknown codes report false.
func DayOfMonth(code int) (string, bool) {
	d, ok := dayByCode[code]
	return d, ok
}
