package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/septivank/linky-feed-ingester/internal/anomaly"
	"github.com/septivank/linky-feed-ingester/internal/transform"
)

// Keys of the settings store read by an ingestion run
const (
	KeyFeedURL        = "apiUrl"
	KeyFieldPapp      = "fieldPapp"
	KeyFieldIinst     = "fieldIinst"
	KeyFieldPtec      = "fieldPtec"
	KeyFieldHchc      = "fieldHchc"
	KeyFieldHchp      = "fieldHchp"
	KeyPowerThreshold = "seuilPuissance"
	KeyTimezone       = "timezone"
)

// DefaultTimezone is used when no zone is configured
const DefaultTimezone = "Europe/Paris"

// Reader reads JSON-encoded values from the settings store
type Reader interface {
	ReadSetting(ctx context.Context, key string) (json.RawMessage, bool, error)
}

// Settings is the per-run configuration held in the settings store
type Settings struct {
	FeedURL        string
	Fields         transform.FieldMapping
	PowerThreshold float64
	Timezone       string
}

// Configured reports whether a feed URL is set
func (s Settings) Configured() bool {
	return strings.TrimSpace(s.FeedURL) != ""
}

// Load reads every known key, applying defaults for absent or empty values.
// fallbackURL is used when apiUrl is not stored.
func Load(ctx context.Context, r Reader, fallbackURL string) (Settings, error) {
	fields := transform.DefaultFieldMapping()
	s := Settings{
		FeedURL:        fallbackURL,
		Fields:         fields,
		PowerThreshold: anomaly.DefaultPowerThreshold,
		Timezone:       DefaultTimezone,
	}

	strs := []struct {
		key  string
		dest *string
	}{
		{KeyFeedURL, &s.FeedURL},
		{KeyFieldPapp, &s.Fields.Papp},
		{KeyFieldIinst, &s.Fields.Iinst},
		{KeyFieldPtec, &s.Fields.Ptec},
		{KeyFieldHchc, &s.Fields.Hchc},
		{KeyFieldHchp, &s.Fields.Hchp},
		{KeyTimezone, &s.Timezone},
	}
	for _, item := range strs {
		raw, ok, err := r.ReadSetting(ctx, item.key)
		if err != nil {
			return Settings{}, fmt.Errorf("failed to load setting %s: %w", item.key, err)
		}
		if !ok {
			continue
		}
		if value := decodeString(raw); value != "" {
			*item.dest = value
		}
	}

	raw, ok, err := r.ReadSetting(ctx, KeyPowerThreshold)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to load setting %s: %w", KeyPowerThreshold, err)
	}
	if ok {
		if value, valid := decodeNumber(raw); valid && value > 0 {
			s.PowerThreshold = value
		}
	}

	return s, nil
}

// decodeString accepts a JSON string or any scalar's literal text
func decodeString(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.TrimSpace(text)
	}
	literal := strings.TrimSpace(string(raw))
	if literal == "null" {
		return ""
	}
	return literal
}

// decodeNumber accepts a JSON number or a string holding one
func decodeNumber(raw json.RawMessage) (float64, bool) {
	var number float64
	if err := json.Unmarshal(raw, &number); err == nil {
		return number, true
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return 0, false
	}
	number, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, false
	}
	return number, true
}
