package model

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
)

// NullFloat is a float64 that may be explicitly undefined, e.g. while an
// indicator is still inside its warm-up window. It encodes as JSON null and
// as SQL NULL when not Valid.
type NullFloat struct {
	Float float64
	Valid bool
}

// Null is the undefined value.
var Null = NullFloat{}

// Some wraps a defined value.
func Some(v float64) NullFloat {
	return NullFloat{Float: v, Valid: true}
}

// Or returns the value, or fallback when undefined.
func (n NullFloat) Or(fallback float64) float64 {
	if !n.Valid {
		return fallback
	}
	return n.Float
}

func (n NullFloat) String() string {
	if !n.Valid {
		return "null"
	}
	return strconv.FormatFloat(n.Float, 'f', -1, 64)
}

// MarshalJSON implements json.Marshaler.
func (n NullFloat) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Float)
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *NullFloat) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*n = Null
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = Some(v)
	return nil
}

// Value implements driver.Valuer.
func (n NullFloat) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	return n.Float, nil
}

// Scan implements sql.Scanner.
func (n *NullFloat) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*n = Null
	case float64:
		*n = Some(v)
	case float32:
		*n = Some(float64(v))
	case int64:
		*n = Some(float64(v))
	case []byte:
		f, err := strconv.ParseFloat(string(v), 64)
		if err != nil {
			return fmt.Errorf("scan NullFloat: %w", err)
		}
		*n = Some(f)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("scan NullFloat: %w", err)
		}
		*n = Some(f)
	default:
		return fmt.Errorf("scan NullFloat: unsupported type %T", src)
	}
	return nil
}
