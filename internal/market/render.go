package market

import (
	"fmt"
	"time"
)

const renderTimeFormat = "15:04:05 02.01.2006"

// Render formats the notification line for one newly listed item:
//
//	KRW-BTC is now at upbit (21:23:59 15.11.2018)
//
// observedAt is epoch milliseconds; the timestamp is shown in loc.
func Render(source, item string, observedAt int64, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	ts := time.UnixMilli(observedAt).In(loc).Format(renderTimeFormat)
	return fmt.Sprintf("%s is now at %s (%s)", item, source, ts)
}
