package messages

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// fields is a decoded JSON object with keys folded to lower case and
// underscores dropped, so sensorId, SensorId and sensor_id all match "sensorid".
type fields map[string]any

func decodeFields(b []byte) (fields, error) {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	f := make(fields, len(raw))
	for k, v := range raw {
		f[foldKey(k)] = v
	}
	return f, nil
}

func foldKey(k string) string {
	return strings.ToLower(strings.ReplaceAll(k, "_", ""))
}

func (f fields) lookup(keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := f[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// str accepts strings and numbers; ids are sometimes numeric.
func (f fields) str(keys ...string) string {
	v, ok := f.lookup(keys...)
	if !ok {
		return ""
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		if x == math.Trunc(x) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return ""
}

// num accepts numbers and numeric strings.
func (f fields) num(keys ...string) (float64, bool) {
	v, ok := f.lookup(keys...)
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		if n, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return n, true
		}
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func (f fields) float(keys ...string) float64 {
	n, _ := f.num(keys...)
	return n
}

func (f fields) time(keys ...string) (time.Time, bool) {
	v, ok := f.lookup(keys...)
	if !ok {
		return time.Time{}, false
	}
	switch x := v.(type) {
	case string:
		return ParseTime(x)
	case float64:
		// epoch milliseconds
		return time.UnixMilli(int64(x)).UTC(), true
	}
	return time.Time{}, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.9999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTime parses ISO-8601 timestamps. Values without a zone are taken as UTC.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
