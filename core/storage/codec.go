package storage

import (
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	"github.com/artpar/apiforge/core/entity"
	"github.com/artpar/apiforge/core/schema"
)

// encode converts a validated value into its stored form. Passwords are
// hashed; JSON values are stored as text.
func (m *Mapper) encode(col entity.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch col.Kind {
	case schema.KindPassword:
		hash, err := bcrypt.GenerateFromPassword([]byte(asString(v)), m.bcryptCost)
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", col.Name, err)
		}
		return string(hash), nil
	case schema.KindJSON:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", col.Name, err)
		}
		return string(data), nil
	}
	return v, nil
}

// decode converts a scanned value into the canonical value of the column
// kind. Engines differ in how they return booleans and numbers.
func decode(col entity.Column, v any) any {
	if v == nil {
		return nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}

	switch col.Kind {
	case schema.KindBoolean:
		switch x := v.(type) {
		case bool:
			return x
		case int64:
			return x != 0
		case string:
			b, _ := strconv.ParseBool(x)
			return b
		}
	case schema.KindInteger:
		switch x := v.(type) {
		case int64:
			return x
		case float64:
			return int64(x)
		case string:
			n, _ := strconv.ParseInt(x, 10, 64)
			return n
		}
	case schema.KindNumber, schema.KindMoney:
		switch x := v.(type) {
		case float64:
			return x
		case int64:
			return float64(x)
		case string:
			f, _ := strconv.ParseFloat(x, 64)
			return f
		}
	case schema.KindJSON:
		if s, ok := v.(string); ok {
			var out any
			if err := json.Unmarshal([]byte(s), &out); err == nil {
				return out
			}
			return s
		}
	default:
		return asString(v)
	}
	return v
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

// CheckPassword reports whether plain matches a stored password hash.
func CheckPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
