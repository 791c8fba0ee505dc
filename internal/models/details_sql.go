package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Value serializes profile details to jsonb.
func (d ProfileDetails) Value() (driver.Value, error) {
	return json.Marshal(d)
}

// Scan deserializes profile details from jsonb.
func (d *ProfileDetails) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*d = ProfileDetails{}
		return nil
	case []byte:
		return json.Unmarshal(v, d)
	case string:
		return json.Unmarshal([]byte(v), d)
	}
	return fmt.Errorf("unsupported profile details type %T", src)
}
