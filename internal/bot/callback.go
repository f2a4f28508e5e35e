package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/solovyov/newswire/internal/news"
)

// Callback data carries the page offset plus the active filters so a
// button press can rebuild the query without server-side session
// state: page_<offset>_s:<category>_sd:<from>_ed:<to>. Telegram caps
// callback data at 64 bytes, which fits category names and two dates.
const callbackPrefix = "page_"

func encodeCallback(offset int, filter news.RecordFilter) string {
	from := ""
	if !filter.From.IsZero() {
		from = filter.From.Format(userDateLayout)
	}
	to := ""
	if !filter.To.IsZero() {
		to = filter.To.Format(userDateLayout)
	}
	return fmt.Sprintf("%s%d_s:%s_sd:%s_ed:%s", callbackPrefix, offset, filter.Category, from, to)
}

func decodeCallback(data string) (int, news.RecordFilter, error) {
	var filter news.RecordFilter
	rest, ok := strings.CutPrefix(data, callbackPrefix)
	if !ok {
		return 0, filter, fmt.Errorf("unexpected callback %q", data)
	}

	rest, rawTo, ok := cutLast(rest, "_ed:")
	if !ok {
		return 0, filter, fmt.Errorf("callback %q missing end date", data)
	}
	rest, rawFrom, ok := cutLast(rest, "_sd:")
	if !ok {
		return 0, filter, fmt.Errorf("callback %q missing start date", data)
	}
	rawOffset, category, ok := strings.Cut(rest, "_s:")
	if !ok {
		return 0, filter, fmt.Errorf("callback %q missing category", data)
	}

	offset, err := strconv.Atoi(rawOffset)
	if err != nil || offset < 0 {
		return 0, filter, fmt.Errorf("callback %q has bad offset", data)
	}

	filter.Category = category
	if rawFrom != "" {
		from, err := time.Parse(userDateLayout, rawFrom)
		if err != nil {
			return 0, filter, fmt.Errorf("callback %q has bad start date", data)
		}
		filter.From = from
	}
	if rawTo != "" {
		to, err := time.Parse(userDateLayout, rawTo)
		if err != nil {
			return 0, filter, fmt.Errorf("callback %q has bad end date", data)
		}
		filter.To = endOfDay(to)
	}
	return offset, filter, nil
}

// cutLast splits s around the last occurrence of sep.
func cutLast(s string, sep string) (before string, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}
