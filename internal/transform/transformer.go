package transform

import (
	"math"
	"strconv"
	"strings"

	"github.com/septivank/linky-feed-ingester/internal/db"
	"github.com/septivank/linky-feed-ingester/internal/feed"
	"github.com/septivank/linky-feed-ingester/tools/timeparser"
	"go.uber.org/zap"
)

// DefaultTariffPeriod is used when the feed carries no tariff-period code
const DefaultTariffPeriod = "HC"

// FieldMapping names the feed fields carrying each meter quantity
type FieldMapping struct {
	Papp  string `json:"fieldPapp"`
	Iinst string `json:"fieldIinst"`
	Ptec  string `json:"fieldPtec"`
	Hchc  string `json:"fieldHchc"`
	Hchp  string `json:"fieldHchp"`
}

// DefaultFieldMapping returns the mapping used when none is configured
func DefaultFieldMapping() FieldMapping {
	return FieldMapping{
		Papp:  "field1",
		Iinst: "field2",
		Ptec:  "field3",
		Hchc:  "field4",
		Hchp:  "field5",
	}
}

// Transformer maps raw feed records onto consumption samples
type Transformer struct {
	mapping  FieldMapping
	timezone string
	logger   *zap.Logger
}

// NewTransformer creates a transformer for one mapping and time zone
func NewTransformer(mapping FieldMapping, timezone string, logger *zap.Logger) *Transformer {
	return &Transformer{
		mapping:  mapping,
		timezone: timezone,
		logger:   logger,
	}
}

// Transform converts one raw record. Unparseable numbers become 0 and a missing
// tariff period becomes "HC"; it never fails.
func (t *Transformer) Transform(rec feed.Record) db.ConsumptionSample {
	normalized := timeparser.Normalize(rec.CreatedAt, t.timezone)
	if normalized.Warning != "" {
		t.logger.Warn("timestamp normalization fell back",
			zap.String("created_at", rec.CreatedAt),
			zap.String("timezone", t.timezone),
			zap.String("reason", normalized.Warning),
		)
	}

	papp := t.number(rec, t.mapping.Papp)
	if papp < 0 {
		papp = 0
	}

	ptec, ok := rec.Field(t.mapping.Ptec)
	if !ok || strings.TrimSpace(ptec) == "" {
		ptec = DefaultTariffPeriod
	}

	return db.ConsumptionSample{
		Timestamp:         normalized.Timestamp,
		OriginalTimestamp: rec.CreatedAt,
		Day:               normalized.Day,
		Papp:              papp,
		Iinst:             t.number(rec, t.mapping.Iinst),
		Ptec:              ptec,
		Hchc:              t.number(rec, t.mapping.Hchc),
		Hchp:              t.number(rec, t.mapping.Hchp),
	}
}

// TransformAll converts records in input order
func (t *Transformer) TransformAll(records []feed.Record) []db.ConsumptionSample {
	samples := make([]db.ConsumptionSample, 0, len(records))
	for _, rec := range records {
		samples = append(samples, t.Transform(rec))
	}
	return samples
}

func (t *Transformer) number(rec feed.Record, field string) float64 {
	raw, ok := rec.Field(field)
	if !ok {
		return 0
	}
	return ParseNumber(raw)
}

// ParseNumber parses the leading decimal number of a feed value, so "1500W" reads
// as 1500. Values with no leading number, or that overflow, read as 0. Leading
// whitespace and an opening square bracket are ignored.
func ParseNumber(raw string) float64 {
	value := strings.TrimLeft(strings.TrimSpace(raw), "[")
	parsed, err := strconv.ParseFloat(numericPrefix(value), 64)
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return 0
	}
	return parsed
}

// numericPrefix returns the longest prefix of s made of an optional sign, digits,
// an optional fraction and an optional exponent
func numericPrefix(s string) string {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}

	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		j := i + 1
		for j < len(s) && isDigit(s[j]) {
			j++
			digits++
		}
		if digits > 0 {
			i = j
		}
	}
	if digits == 0 {
		return ""
	}

	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		start := j
		for j < len(s) && isDigit(s[j]) {
			j++
		}
		if j > start {
			i = j
		}
	}
	return s[:i]
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
