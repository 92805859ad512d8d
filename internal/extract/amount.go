package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// yearRejectMin/Max: a bare integer in this range is far more likely to be
// a year than a payable amount, so it is rejected and the next match tried.
const (
	yearRejectMin = 1900
	yearRejectMax = 2100
)

const numberBody = `(?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d{1,2})?`

// amountPatterns are tried in order; the first accepted match wins.
var amountPatterns = []struct {
	re       *regexp.Regexp
	valueIdx int
	currIdx  int
}{
	// $1,250.00 / €99 / £42.50
	{re: regexp.MustCompile(`([$€£])\s*(` + numberBody + `)`), currIdx: 1, valueIdx: 2},
	// USD 1,250.00
	{re: regexp.MustCompile(`(?i)\b(USD|EUR|GBP|CAD|AUD)\s*(` + numberBody + `)`), currIdx: 1, valueIdx: 2},
	// 1,250.00 USD / 99 dollars
	{re: regexp.MustCompile(`(?i)(` + numberBody + `)\s*(USD|EUR|GBP|CAD|AUD|dollars|euros|pounds)\b`), valueIdx: 1, currIdx: 2},
	// amount: 1250.00 (keyword-anchored, cents required)
	{re: regexp.MustCompile(`(?i)(?:amount|total|balance|due|pay)\W{0,10}((?:\d{1,3}(?:,\d{3})+|\d+)\.\d{2})\b`), valueIdx: 1},
}

var currencyWords = map[string]string{
	"$":       "USD",
	"€":       "EUR",
	"£":       "GBP",
	"dollars": "USD",
	"euros":   "EUR",
	"pounds":  "GBP",
}

// ParseAmount finds the first plausible monetary amount in text. It
// returns the amount, the detected currency code (may be empty), and
// whether anything was found.
func ParseAmount(text string) (float64, string, bool) {
	for _, p := range amountPatterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			value, err := strconv.ParseFloat(strings.ReplaceAll(m[p.valueIdx], ",", ""), 64)
			if err != nil {
				continue
			}
			if isProbableYear(value) {
				continue
			}
			currency := ""
			if p.currIdx > 0 {
				currency = normalizeCurrency(m[p.currIdx])
			}
			return value, currency, true
		}
	}
	return 0, "", false
}

// isProbableYear rejects bare integers that look like calendar years.
func isProbableYear(v float64) bool {
	return v == math.Trunc(v) && v >= yearRejectMin && v <= yearRejectMax
}

func normalizeCurrency(raw string) string {
	lower := strings.ToLower(raw)
	if code, ok := currencyWords[lower]; ok {
		return code
	}
	if code, ok := currencyWords[raw]; ok {
		return code
	}
	return strings.ToUpper(raw)
}
