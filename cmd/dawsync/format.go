package main

import "fmt"

// formatBytes renders a byte count with a binary unit suffix.
func formatBytes(c int64) string {
	b := float64(c)
	neg := ""
	if c < 0 {
		b = -b
		c = -c
		neg = "-"
	}
	switch {
	case c >= 1<<40:
		return fmt.Sprintf("%s%.3f TiB", neg, b/(1<<40))
	case c >= 1<<30:
		return fmt.Sprintf("%s%.3f GiB", neg, b/(1<<30))
	case c >= 1<<20:
		return fmt.Sprintf("%s%.3f MiB", neg, b/(1<<20))
	case c >= 1<<10:
		return fmt.Sprintf("%s%.3f KiB", neg, b/(1<<10))
	default:
		return fmt.Sprintf("%s%d B", neg, c)
	}
}

func formatVersionNumber(n int) string {
	return fmt.Sprintf("v%3d", n)
}
