package node

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	errUnexpectedValue = errors.New("unexpected value")
	errNotObject       = errors.New("not a JSON object")
	errNotNumber       = errors.New("not a number")
)

// decodeObject parses a JSON object payload.
func decodeObject(payload []byte) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, errNotObject
	}
	return data, nil
}

// unwrapStatus returns the StatusSNS section of a Tasmota STATUS10 reply,
// or data itself for telemetry messages.
func unwrapStatus(data map[string]any) map[string]any {
	if sns, ok := data["StatusSNS"].(map[string]any); ok {
		return sns
	}
	return data
}

// number converts a JSON value to float64. Tasmota and Shelly firmware
// send some readings as strings.
func number(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case bool:
		return boolValue(n), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", errNotNumber, n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %v", errNotNumber, v)
	}
}

// field is one JSON key mapped onto a driver.
type field struct {
	key    string
	driver string
}

// setFields copies every present key of obj into its driver. A key holding a
// non-numeric value fails the whole update before any driver is set.
func (b *base) setFields(obj map[string]any, fields []field) error {
	values := make([]float64, len(fields))
	present := make([]bool, len(fields))
	for i, f := range fields {
		v, ok := obj[f.key]
		if !ok {
			continue
		}
		n, err := number(v)
		if err != nil {
			return fmt.Errorf("%s: %w", f.key, err)
		}
		values[i], present[i] = n, true
	}
	for i, f := range fields {
		if present[i] {
			b.setDriver(f.driver, values[i])
		}
	}
	return nil
}

// siblingTopic replaces the last segment of topic with last.
func siblingTopic(topic, last string) string {
	if i := strings.LastIndex(topic, "/"); i >= 0 {
		return topic[:i] + "/" + last
	}
	return topic + "/" + last
}

// lastSegment returns the part of topic after the final slash.
func lastSegment(topic string) string {
	return topic[strings.LastIndex(topic, "/")+1:]
}

// intParam reads a numeric command parameter stored under the first of
// names present. The host controller sends names with a unit suffix
// ("R.uom100"); plain names are accepted too. A missing parameter reads as
// zero.
func intParam(query map[string]string, names ...string) (int, error) {
	raw, name, ok := lookupParam(query, names)
	if !ok || strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidParameter, name, raw)
	}
	return int(f), nil
}

func lookupParam(query map[string]string, names []string) (raw, key string, ok bool) {
	for _, name := range names {
		if v, found := query[name]; found {
			return v, name, true
		}
		prefix := name + "."
		for k, v := range query {
			if strings.HasPrefix(k, prefix) {
				return v, k, true
			}
		}
	}
	return "", "", false
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
