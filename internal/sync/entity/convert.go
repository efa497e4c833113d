package entity

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"

	"crewcommand_backend/platform/phone"
	"crewcommand_backend/platform/sanitize"
	"crewcommand_backend/platform/validator"

	"github.com/google/uuid"
)

// ErrEmptyPatch is returned when no writable field survives conversion.
var ErrEmptyPatch = errors.New("payload has no writable fields")

// FieldError reports an invalid payload field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// Values maps column names to typed values ready for SQL parameters.
type Values map[string]interface{}

// Names returns the column names in sorted order so generated SQL is stable.
func (v Values) Names() []string {
	names := make([]string, 0, len(v))
	for name := range v {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// String returns the value of a text-like column, if set.
func (v Values) String(name string) (string, bool) {
	s, ok := v[name].(string)
	return s, ok
}

// Converter turns raw device payloads into typed column values.
type Converter struct {
	val    *validator.Validator
	region string
}

// NewConverter creates a converter; region resolves national phone numbers.
func NewConverter(val *validator.Validator, region string) *Converter {
	return &Converter{val: val, region: region}
}

// Mode selects which columns a conversion accepts.
type Mode int

const (
	// ModeInsert requires Required columns.
	ModeInsert Mode = iota
	// ModeUpdate accepts any subset of writable columns.
	ModeUpdate
	// ModeTransition accepts only the spec's transition field.
	ModeTransition
)

// Decode parses a raw JSON payload keeping numbers exact.
func Decode(raw json.RawMessage) (map[string]interface{}, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]interface{}{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload map[string]interface{}
	if err := dec.Decode(&payload); err != nil {
		return nil, &FieldError{Field: "payload", Message: "must be a JSON object"}
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return payload, nil
}

// Convert validates payload against spec. Fields that are not writable
// columns (ids, tenant, version, timestamps, unknown keys) are dropped.
func (c *Converter) Convert(spec Spec, payload map[string]interface{}, mode Mode) (Values, error) {
	values := Values{}

	for _, col := range spec.Columns {
		if mode == ModeTransition && col.Name != spec.TransitionField {
			continue
		}
		raw, present := payload[col.Name]
		if !present {
			if mode == ModeInsert && col.Required {
				return nil, &FieldError{Field: col.Name, Message: "is required"}
			}
			continue
		}

		value, err := c.convertValue(col, raw)
		if err != nil {
			return nil, err
		}
		if value == nil && (!col.Nullable || (mode == ModeInsert && col.Required)) {
			return nil, &FieldError{Field: col.Name, Message: "must not be null"}
		}
		values[col.Name] = value
	}

	if len(values) == 0 && mode != ModeInsert {
		return nil, ErrEmptyPatch
	}
	return values, nil
}

func (c *Converter) convertValue(col Column, raw interface{}) (interface{}, error) {
	if raw == nil {
		return nil, nil
	}

	switch col.Kind {
	case Int:
		n, ok := raw.(json.Number)
		if !ok {
			return nil, &FieldError{Field: col.Name, Message: "must be an integer"}
		}
		i, err := n.Int64()
		if err != nil || i < 0 || i > 1<<31-1 {
			return nil, &FieldError{Field: col.Name, Message: "must be a non-negative integer"}
		}
		return int32(i), nil
	}

	s, ok := raw.(string)
	if !ok {
		return nil, &FieldError{Field: col.Name, Message: "must be a string"}
	}

	switch col.Kind {
	case Text:
		return c.text(col, sanitize.Line(s))
	case LongText:
		return c.text(col, sanitize.Text(s))
	case Phone:
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		normalized, err := phone.ParseE164(s, c.region)
		if err != nil {
			return nil, &FieldError{Field: col.Name, Message: "must be a valid phone number"}
		}
		return normalized, nil
	case Email:
		email := strings.ToLower(strings.TrimSpace(s))
		if email == "" {
			return nil, nil
		}
		if err := c.val.Var(email, fmt.Sprintf("email,max=%d", col.MaxLen)); err != nil {
			return nil, &FieldError{Field: col.Name, Message: "must be a valid email address"}
		}
		return email, nil
	case UUID:
		id, err := uuid.Parse(strings.TrimSpace(s))
		if err != nil {
			return nil, &FieldError{Field: col.Name, Message: "must be a valid UUID"}
		}
		return id, nil
	case Timestamp:
		t, err := validator.ParseTimestamp(s)
		if err != nil {
			return nil, &FieldError{Field: col.Name, Message: "must be a valid ISO-8601 datetime"}
		}
		return t.UTC(), nil
	case Enum:
		if err := col.Parse(s); err != nil {
			return nil, &FieldError{Field: col.Name, Message: err.Error()}
		}
		return s, nil
	case Timezone:
		tz := strings.TrimSpace(s)
		if tz == "" {
			return nil, nil
		}
		if _, err := time.LoadLocation(tz); err != nil {
			return nil, &FieldError{Field: col.Name, Message: "must be a valid IANA timezone"}
		}
		return tz, nil
	}

	return nil, &FieldError{Field: col.Name, Message: "unsupported column"}
}

func (c *Converter) text(col Column, s string) (interface{}, error) {
	if s == "" {
		if col.Nullable {
			return nil, nil
		}
		return nil, &FieldError{Field: col.Name, Message: "must not be empty"}
	}
	return sanitize.Truncate(s, col.MaxLen), nil
}
