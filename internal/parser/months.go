package parser

import (
	"strings"
	"time"
)

// russianMonths maps the site's month labels to time.Month. The site
// prints dates as "12 января", so the genitive forms matter most, but
// nominative forms show up in older markup and are accepted too.
var russianMonths = map[string]time.Month{
	"января":   time.January,
	"январь":   time.January,
	"февраля":  time.February,
	"февраль":  time.February,
	"марта":    time.March,
	"март":     time.March,
	"апреля":   time.April,
	"апрель":   time.April,
	"мая":      time.May,
	"май":      time.May,
	"июня":     time.June,
	"июнь":     time.June,
	"июля":     time.July,
	"июль":     time.July,
	"августа":  time.August,
	"август":   time.August,
	"сентября": time.September,
	"сентябрь": time.September,
	"октября":  time.October,
	"октябрь":  time.October,
	"ноября":   time.November,
	"ноябрь":   time.November,
	"декабря":  time.December,
	"декабрь":  time.December,
}

// monthByName resolves a month label in the site's locale.
func monthByName(name string) (time.Month, bool) {
	m, ok := russianMonths[strings.ToLower(strings.TrimSpace(name))]
	return m, ok
}
