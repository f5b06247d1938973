package policy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ParsedPolicy is the structured form of a policy key.
type ParsedPolicy struct {
	// Action is the uppercase treatment tag ("RAW", "GNOISE", "AVG", ...).
	// Empty when the key was empty or absent.
	Action string

	// Params maps parameter name to a float64 when the value parses as a
	// number, or to the raw string otherwise.
	Params map[string]any

	// Window is reserved for sliding/tumbling aggregation. Parsed but not
	// consumed by any current strategy.
	Window int

	// Interval is the aggregation period in seconds, normalized from the
	// <N>[S|M|H] suffix grammar at parse time. Zero when absent.
	Interval int
}

var intervalRe = regexp.MustCompile(`^(\d+)([SMH])$`)

// ParsePolicyKey decodes a policy key into its structured form. An empty
// key yields the zero value (Action == "") with no error; a malformed
// params, window or interval section yields an error so the caller can
// drop the message.
func ParsePolicyKey(key string) (ParsedPolicy, error) {
	var parsed ParsedPolicy
	if key == "" {
		return parsed, nil
	}

	parts := strings.SplitN(key, ":", 4)
	parsed.Action = strings.TrimSpace(parts[0])

	if len(parts) >= 2 && strings.TrimSpace(parts[1]) != "" {
		params, err := parseParams(parts[1])
		if err != nil {
			return ParsedPolicy{}, err
		}
		parsed.Params = params
	}
	if len(parts) >= 3 && strings.TrimSpace(parts[2]) != "" {
		window, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil {
			return ParsedPolicy{}, fmt.Errorf("parse window %q: %w", parts[2], err)
		}
		parsed.Window = window
	}
	if len(parts) >= 4 && strings.TrimSpace(parts[3]) != "" {
		interval, err := ParseInterval(strings.TrimSpace(parts[3]))
		if err != nil {
			return ParsedPolicy{}, err
		}
		parsed.Interval = interval
	}
	return parsed, nil
}

// parseParams decodes "sigma=0.1,mode=strict" into
// {"sigma": 0.1, "mode": "strict"}. Values that parse as floats become
// float64; everything else stays a string. Keys and values are trimmed.
func parseParams(s string) (map[string]any, error) {
	params := make(map[string]any)
	for _, item := range strings.Split(s, ",") {
		name, value, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("malformed param %q: missing '='", item)
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if name == "" {
			return nil, fmt.Errorf("malformed param %q: empty name", item)
		}
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			params[name] = f
		} else {
			params[name] = value
		}
	}
	return params, nil
}

// ParseInterval converts a duration string of the form <N>[S|M|H]
// (case-insensitive) to a number of seconds.
func ParseInterval(s string) (int, error) {
	m := intervalRe.FindStringSubmatch(strings.ToUpper(s))
	if m == nil {
		return 0, fmt.Errorf("invalid interval %q: want <N>[S|M|H]", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: %w", s, err)
	}
	switch m[2] {
	case "S":
		return n, nil
	case "M":
		return n * 60, nil
	default:
		return n * 3600, nil
	}
}
