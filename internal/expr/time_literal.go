package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// parseTimeLiteral converts an "HH:MM" token into minutes since midnight.
func parseTimeLiteral(text string) (int, error) {
	parts := strings.SplitN(text, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed time literal %q", text)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in time literal %q", text)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in time literal %q", text)
	}
	return h*60 + m, nil
}
