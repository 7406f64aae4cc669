package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// jsonValue marshals v for storage in a jsonb column.
func jsonValue(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling jsonb value: %w", err)
	}
	return b, nil
}

// jsonScan unmarshals a jsonb column into dst, tolerating NULL.
func jsonScan(src any, dst any) error {
	if src == nil {
		return nil
	}
	var b []byte
	switch s := src.(type) {
	case []byte:
		b = s
	case string:
		b = []byte(s)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", src)
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dst)
}

// StringList is a jsonb-backed []string.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return jsonValue([]string{})
	}
	return jsonValue([]string(l))
}

func (l *StringList) Scan(src any) error { return jsonScan(src, l) }

// Contains reports whether the list holds s.
func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

// StringMap is a jsonb-backed map[string]string.
type StringMap map[string]string

func (m StringMap) Value() (driver.Value, error) {
	if m == nil {
		return jsonValue(map[string]string{})
	}
	return jsonValue(map[string]string(m))
}

func (m *StringMap) Scan(src any) error { return jsonScan(src, m) }

// EmotionalState wraps EmotionalStateCache for jsonb storage.
type EmotionalState struct {
	EmotionalStateCache
}

func (e EmotionalState) Value() (driver.Value, error) { return jsonValue(e.EmotionalStateCache) }
func (e *EmotionalState) Scan(src any) error          { return jsonScan(src, &e.EmotionalStateCache) }

// ChannelOverrides maps an original channel to its healed substitute
// (e.g. voice → sms once a landline is detected).
type ChannelOverrides map[Channel]Channel

func (o ChannelOverrides) Value() (driver.Value, error) {
	if o == nil {
		return jsonValue(map[Channel]Channel{})
	}
	return jsonValue(map[Channel]Channel(o))
}

func (o *ChannelOverrides) Scan(src any) error { return jsonScan(src, o) }

// FailureRecords is the jsonb-backed healing history on an enrollment.
type FailureRecords []FailureRecord

func (f FailureRecords) Value() (driver.Value, error) {
	if f == nil {
		return jsonValue([]FailureRecord{})
	}
	return jsonValue([]FailureRecord(f))
}

func (f *FailureRecords) Scan(src any) error { return jsonScan(src, f) }

func (b BusinessHours) Value() (driver.Value, error) { return jsonValue(b) }
func (b *BusinessHours) Scan(src any) error          { return jsonScan(src, b) }
