package value

import "time"

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseDuration(s string) (time.Duration, error) {
	return time.ParseDuration(s)
}
