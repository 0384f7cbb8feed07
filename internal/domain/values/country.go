package values

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Country represents an ISO 3166-1 alpha-2 country code.
type Country struct {
	code string
}

// NewCountry creates a Country from a two-letter code.
func NewCountry(code string) (Country, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if len(normalized) != 2 {
		return Country{}, fmt.Errorf("country code must be 2 characters: %q", code)
	}
	for _, r := range normalized {
		if r < 'A' || r > 'Z' {
			return Country{}, fmt.Errorf("invalid country code: %q", code)
		}
	}
	return Country{code: normalized}, nil
}

// MustNewCountry creates a Country and panics on error (for constants/tests)
func MustNewCountry(code string) Country {
	c, err := NewCountry(code)
	if err != nil {
		panic(err)
	}
	return c
}

// Code returns the alpha-2 code.
func (c Country) Code() string {
	return c.code
}

// IsZero reports whether no country has been set.
func (c Country) IsZero() bool {
	return c.code == ""
}

// Equal checks if two countries are the same
func (c Country) Equal(other Country) bool {
	return c.code == other.code
}

func (c Country) String() string {
	return c.code
}

// JSON marshaling
func (c Country) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.code)
}

// JSON unmarshaling
func (c *Country) UnmarshalJSON(data []byte) error {
	var code string
	if err := json.Unmarshal(data, &code); err != nil {
		return err
	}
	if code == "" {
		*c = Country{}
		return nil
	}
	country, err := NewCountry(code)
	if err != nil {
		return err
	}
	*c = country
	return nil
}

// Database scanning (implements sql.Scanner)
func (c *Country) Scan(value interface{}) error {
	if value == nil {
		*c = Country{}
		return nil
	}
	switch v := value.(type) {
	case string:
		if v == "" {
			*c = Country{}
			return nil
		}
		country, err := NewCountry(v)
		if err != nil {
			return err
		}
		*c = country
		return nil
	case []byte:
		return c.Scan(string(v))
	default:
		return fmt.Errorf("cannot scan %T into Country", value)
	}
}

// Database value (implements driver.Valuer)
func (c Country) Value() (driver.Value, error) {
	if c.code == "" {
		return nil, nil
	}
	return c.code, nil
}
