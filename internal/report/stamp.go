// Package report turns an unrecovered failure into artifacts: a screenshot,
// a CI annotation and a failed outcome.
package report

import (
	"time"

	"github.com/goodsign/monday"
	"github.com/jakopako/punchclock/internal/utils"
)

const stampLayout = "2006/1/2 PM3:04:05"

var taipei = loadTaipei()

func loadTaipei() *time.Location {
	loc, err := time.LoadLocation("Asia/Taipei")
	if err != nil {
		return time.FixedZone("CST", 8*60*60)
	}
	return loc
}

// Stamp renders t as Taipei local time in the long zh-TW form with every
// non-digit replaced by '-', e.g. 2024-3-5---3-04-05.
func Stamp(t time.Time) string {
	return utils.ReplaceNonDigits(monday.Format(t.In(taipei), stampLayout, monday.LocaleZhTW), '-')
}
