package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Payload is the feed response body
type Payload struct {
	Feeds []Record `json:"feeds"`
}

// Record is one raw feed entry: its creation time plus named field values
type Record struct {
	CreatedAt string
	Fields    map[string]string
}

// Field returns the value of a named field and whether it was present
func (r Record) Field(name string) (string, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// UnmarshalJSON keeps string values verbatim, numbers and booleans by their literal
// text, and drops nulls. Nested objects and arrays are ignored.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	rec := Record{Fields: make(map[string]string, len(raw))}
	for key, value := range raw {
		value = bytes.TrimSpace(value)
		if len(value) == 0 || bytes.Equal(value, []byte("null")) {
			continue
		}

		var text string
		switch value[0] {
		case '"':
			if err := json.Unmarshal(value, &text); err != nil {
				return fmt.Errorf("field %q: %w", key, err)
			}
		case '{', '[':
			continue
		default:
			text = string(value)
		}

		if key == "created_at" {
			rec.CreatedAt = text
			continue
		}
		rec.Fields[key] = text
	}

	*r = rec
	return nil
}
