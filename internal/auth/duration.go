package auth

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// ParseExpirationDuration parses a duration string or custom date and returns
// an expiration time. Supported formats:
//   - "never" or "" (empty) - returns nil (no expiration)
//   - "30d", "2w", "24h" - relative offsets from now
//   - Any valid Go duration like "30m", "2h30m", etc.
//   - "mm/dd/yyyy" or "mm/dd/yyyy HH:MM" - custom date
func ParseExpirationDuration(expiresIn string) (*time.Time, error) {
	if expiresIn == "" || expiresIn == "never" {
		return nil, nil
	}

	if dur, err := time.ParseDuration(expiresIn); err == nil {
		t := time.Now().Add(dur)
		return &t, nil
	}

	dateFormats := []string{
		"01/02/2006 15:04",
		"01/02/2006",
	}
	for _, format := range dateFormats {
		if t, err := time.Parse(format, expiresIn); err == nil {
			if t.Before(time.Now()) {
				return nil, fmt.Errorf("expiration date must be in the future: %s", expiresIn)
			}
			return &t, nil
		}
	}

	re := regexp.MustCompile(`^(\d+)([dwh])$`)
	matches := re.FindStringSubmatch(expiresIn)
	if len(matches) != 3 {
		return nil, fmt.Errorf("invalid expiration format: %s (use 'never', '30d', '7d', '24h', '12/25/2026', or any Go duration like '30m')", expiresIn)
	}

	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid number in expiration: %s", expiresIn)
	}

	var dur time.Duration
	switch matches[2] {
	case "d":
		dur = time.Duration(num) * 24 * time.Hour
	case "w":
		dur = time.Duration(num) * 7 * 24 * time.Hour
	case "h":
		dur = time.Duration(num) * time.Hour
	default:
		return nil, fmt.Errorf("unknown unit in expiration: %s", matches[2])
	}

	t := time.Now().Add(dur)
	return &t, nil
}
