package database

import (
	"strconv"
	"strings"
	"time"
)

// Now returns the current UTC time truncated to the precision both
// dialects store
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Placeholders returns n comma separated positional parameters starting at
// $start, e.g. Placeholders(2, 3) == "$2, $3, $4"
func Placeholders(start, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(start + i))
	}
	return b.String()
}

// Int64Args converts ids into query arguments
func Int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
