package transform_test

import (
	"encoding/json"
	"testing"

	"github.com/septivank/linky-feed-ingester/internal/feed"
	"github.com/septivank/linky-feed-ingester/internal/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decodeRecord(t *testing.T, body string) feed.Record {
	t.Helper()
	var rec feed.Record
	require.NoError(t, json.Unmarshal([]byte(body), &rec))
	return rec
}

func newTransformer() *transform.Transformer {
	return transform.NewTransformer(transform.DefaultFieldMapping(), "Europe/Paris", zap.NewNop())
}

func TestTransform_DefaultMapping(t *testing.T) {
	rec := decodeRecord(t, `{"created_at":"2025-01-15T10:00:00Z","field1":"1200","field2":"5","field3":"HP","field4":"1000","field5":"2000"}`)

	sample := newTransformer().Transform(rec)

	assert.Equal(t, "2025-01-15T11:00:00.000Z", sample.Timestamp)
	assert.Equal(t, "2025-01-15T10:00:00Z", sample.OriginalTimestamp)
	assert.Equal(t, "2025-01-15", sample.Day)
	assert.Equal(t, 1200.0, sample.Papp)
	assert.Equal(t, 5.0, sample.Iinst)
	assert.Equal(t, "HP", sample.Ptec)
	assert.Equal(t, 1000.0, sample.Hchc)
	assert.Equal(t, 2000.0, sample.Hchp)
}

func TestTransform_Defaults(t *testing.T) {
	rec := decodeRecord(t, `{"created_at":"2025-01-15T10:00:00Z","field1":"abc","field2":null,"field4":"NaN"}`)

	sample := newTransformer().Transform(rec)

	assert.Equal(t, 0.0, sample.Papp)
	assert.Equal(t, 0.0, sample.Iinst)
	assert.Equal(t, transform.DefaultTariffPeriod, sample.Ptec)
	assert.Equal(t, 0.0, sample.Hchc)
	assert.Equal(t, 0.0, sample.Hchp)
}

func TestTransform_EmptyTariffPeriod(t *testing.T) {
	rec := decodeRecord(t, `{"created_at":"2025-01-15T10:00:00Z","field3":"  "}`)

	sample := newTransformer().Transform(rec)

	assert.Equal(t, "HC", sample.Ptec)
}

func TestTransform_NegativePowerClamped(t *testing.T) {
	rec := decodeRecord(t, `{"created_at":"2025-01-15T10:00:00Z","field1":"-50","field2":"-3"}`)

	sample := newTransformer().Transform(rec)

	assert.Equal(t, 0.0, sample.Papp)
	assert.Equal(t, -3.0, sample.Iinst, "only apparent power is clamped")
}

func TestTransform_NumericLiterals(t *testing.T) {
	rec := decodeRecord(t, `{"created_at":"2025-01-15T10:00:00Z","field1":1500.5,"field4":12345}`)

	sample := newTransformer().Transform(rec)

	assert.Equal(t, 1500.5, sample.Papp)
	assert.Equal(t, 12345.0, sample.Hchc)
}

func TestTransform_CustomMapping(t *testing.T) {
	mapping := transform.FieldMapping{Papp: "field7", Iinst: "field8", Ptec: "field6", Hchc: "field1", Hchp: "field2"}
	transformer := transform.NewTransformer(mapping, "UTC", zap.NewNop())
	rec := decodeRecord(t, `{"created_at":"2025-01-15T10:00:00Z","field7":"900","field6":"HP","field1":"11","field2":"22"}`)

	sample := transformer.Transform(rec)

	assert.Equal(t, "2025-01-15T10:00:00.000Z", sample.Timestamp)
	assert.Equal(t, 900.0, sample.Papp)
	assert.Equal(t, "HP", sample.Ptec)
	assert.Equal(t, 11.0, sample.Hchc)
	assert.Equal(t, 22.0, sample.Hchp)
}

func TestTransform_UnparseableTimestamp(t *testing.T) {
	rec := decodeRecord(t, `{"created_at":"2025-01-15Tbroken","field1":"10"}`)

	sample := newTransformer().Transform(rec)

	assert.Equal(t, "2025-01-15Tbroken", sample.Timestamp)
	assert.Equal(t, "2025-01-15", sample.Day)
	assert.Equal(t, 10.0, sample.Papp)
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		raw      string
		expected float64
	}{
		{"42", 42},
		{" 3.5 ", 3.5},
		{"[12]", 12},
		{"", 0},
		{"abc", 0},
		{"Inf", 0},
		{"-7", -7},
		{"1500W", 1500},
		{"12.5 kW", 12.5},
		{"1_000", 1},
		{"0x10", 0},
		{".5", 0.5},
		{"2.", 2},
		{"1e3", 1000},
		{"1e", 1},
		{"-", 0},
		{"1e999", 0},
	}

	for _, tt := range tests {
		if got := transform.ParseNumber(tt.raw); got != tt.expected {
			t.Errorf("ParseNumber(%q): expected %v, got %v", tt.raw, tt.expected, got)
		}
	}
}

func TestTransformAll_KeepsOrder(t *testing.T) {
	records := []feed.Record{
		decodeRecord(t, `{"created_at":"2025-01-15T10:02:00Z"}`),
		decodeRecord(t, `{"created_at":"2025-01-15T10:01:00Z"}`),
	}

	samples := newTransformer().TransformAll(records)

	require.Len(t, samples, 2)
	assert.Equal(t, "2025-01-15T11:02:00.000Z", samples[0].Timestamp)
	assert.Equal(t, "2025-01-15T11:01:00.000Z", samples[1].Timestamp)
}
