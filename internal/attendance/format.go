package attendance

import "fmt"

// FormatDuration renders minutes as "2 hours 5 minutes" / "1 minute".
func FormatDuration(minutes int) string {
	hours := minutes / 60
	mins := minutes % 60
	if hours > 0 {
		return fmt.Sprintf("%d hour%s %d minute%s", hours, plural(hours), mins, plural(mins))
	}
	return fmt.Sprintf("%d minute%s", mins, plural(mins))
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
