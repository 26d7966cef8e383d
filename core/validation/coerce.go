package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/apiforge/core/schema"
)

// Wire formats of date and timestamp values. Timestamps are fixed width
// in UTC so that their text order is their time order.
const (
	DateLayout      = "2006-01-02"
	TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"
)

// Coerce checks that v is a valid value of kind and returns its canonical
// form: integers become int64, numbers float64, money is rounded to two
// decimals and timestamps are normalized to UTC. The string result
// describes the violation when v is invalid.
func Coerce(kind schema.Kind, values []string, v any) (any, string) {
	switch kind {
	case schema.KindString, schema.KindText, schema.KindPassword:
		s, ok := v.(string)
		if !ok {
			return nil, "must be a string"
		}
		return s, ""

	case schema.KindEmail:
		s, ok := v.(string)
		if !ok {
			return nil, "must be a string"
		}
		addr, err := mail.ParseAddress(s)
		if err != nil || addr.Address != s {
			return nil, "must be a valid email address"
		}
		return s, ""

	case schema.KindLink:
		s, ok := v.(string)
		if !ok {
			return nil, "must be a string"
		}
		u, err := url.Parse(s)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, "must be an absolute http or https URL"
		}
		return s, ""

	case schema.KindUUID:
		s, ok := v.(string)
		if !ok {
			return nil, "must be a string"
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, "must be a valid UUID"
		}
		return id.String(), ""

	case schema.KindEnum:
		s, ok := v.(string)
		if !ok {
			return nil, "must be a string"
		}
		for _, allowed := range values {
			if s == allowed {
				return s, ""
			}
		}
		return nil, fmt.Sprintf("must be one of: %s", strings.Join(values, ", "))

	case schema.KindDate:
		s, ok := v.(string)
		if !ok {
			return nil, "must be a string"
		}
		if _, err := time.Parse(DateLayout, s); err != nil {
			return nil, "must be a date in YYYY-MM-DD format"
		}
		return s, ""

	case schema.KindTimestamp:
		s, ok := v.(string)
		if !ok {
			return nil, "must be a string"
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, "must be an RFC 3339 timestamp"
		}
		return t.UTC().Format(TimestampLayout), ""

	case schema.KindBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, "must be a boolean"
		}
		return b, ""

	case schema.KindInteger:
		return coerceInteger(v)

	case schema.KindNumber:
		f, ok := schema.AsFloat(v)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, "must be a number"
		}
		return f, ""

	case schema.KindMoney:
		f, ok := schema.AsFloat(v)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, "must be a number"
		}
		return math.Round(f*100) / 100, ""

	case schema.KindJSON:
		return v, ""
	}
	return nil, fmt.Sprintf("unsupported kind %q", kind)
}

// maxExactInteger is the largest magnitude a float64 holds exactly.
const maxExactInteger = 1 << 53

// coerceInteger keeps integral json.Number values exact and rejects floats
// outside the range where they are exact integers.
func coerceInteger(v any) (any, string) {
	switch n := v.(type) {
	case int:
		return int64(n), ""
	case int32:
		return int64(n), ""
	case int64:
		return n, ""
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, ""
		}
	}

	f, ok := schema.AsFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return nil, "must be an integer"
	}
	if math.Abs(f) > maxExactInteger {
		return nil, "is out of the integer range"
	}
	return int64(f), ""
}

// CoerceString parses a query string value into kind. It is used for
// filters, where every value arrives as text.
func CoerceString(kind schema.Kind, values []string, s string) (any, string) {
	switch kind {
	case schema.KindBoolean:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, "must be true or false"
		}
		return b, ""
	case schema.KindInteger:
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return nil, "must be a number"
		}
		return coerceInteger(json.Number(s))
	case schema.KindNumber, schema.KindMoney:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, "must be a number"
		}
		return Coerce(kind, values, f)
	case schema.KindJSON, schema.KindPassword:
		return nil, "cannot be filtered"
	}
	return Coerce(kind, values, s)
}
