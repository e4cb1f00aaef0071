package codec

import (
	"time"

	"github.com/xraph/sqjobs/job"
)

// DateTimeLayout is the wire form of time.Time values. Times are converted
// to UTC before formatting.
const DateTimeLayout = "2006-01-02 15:04:05"

// Normalize walks v and replaces time values with their wire strings:
// time.Time becomes DateTimeLayout, job.Date becomes job.DateLayout.
// Slices and maps of type []any and map[string]any are copied, other
// values are returned unchanged.
func Normalize(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format(DateTimeLayout)
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UTC().Format(DateTimeLayout)
	case job.Date:
		return x.String()
	case *job.Date:
		if x == nil {
			return nil
		}
		return x.String()
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = Normalize(e)
		}
		return out
	default:
		return v
	}
}
