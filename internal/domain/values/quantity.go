package values

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Quantity represents a substance quantity with unit and precision handling.
// All arithmetic is performed in the base unit (grams); constructors normalize
// other mass units on entry so two quantities are always directly comparable.
type Quantity struct {
	grams decimal.Decimal
}

// Supported mass units
const (
	UnitGram      = "g"
	UnitKilogram  = "kg"
	UnitMilligram = "mg"
)

var unitFactors = map[string]decimal.Decimal{
	UnitGram:      decimal.NewFromInt(1),
	UnitKilogram:  decimal.NewFromInt(1000),
	UnitMilligram: decimal.New(1, -3),
}

// NewQuantity creates a Quantity from an amount in the given unit.
func NewQuantity(amount decimal.Decimal, unit string) (Quantity, error) {
	factor, err := unitFactor(unit)
	if err != nil {
		return Quantity{}, err
	}
	if amount.IsNegative() {
		return Quantity{}, fmt.Errorf("quantity cannot be negative: %s", amount)
	}
	return Quantity{grams: amount.Mul(factor)}, nil
}

// NewQuantityFromString creates a Quantity from a string amount and unit.
func NewQuantityFromString(amount, unit string) (Quantity, error) {
	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return Quantity{}, fmt.Errorf("invalid amount: %w", err)
	}
	return NewQuantity(dec, unit)
}

// NewGrams creates a Quantity directly in the base unit.
func NewGrams(amount decimal.Decimal) Quantity {
	return Quantity{grams: amount}
}

// MustNewQuantity creates a Quantity and panics on error (for constants/tests)
func MustNewQuantity(amount decimal.Decimal, unit string) Quantity {
	q, err := NewQuantity(amount, unit)
	if err != nil {
		panic(err)
	}
	return q
}

// MustGramsFromString creates a gram Quantity from a string and panics on
// error (for constants/tests).
func MustGramsFromString(amount string) Quantity {
	q, err := NewQuantityFromString(amount, UnitGram)
	if err != nil {
		panic(err)
	}
	return q
}

// ZeroQuantity returns the zero quantity.
func ZeroQuantity() Quantity {
	return Quantity{grams: decimal.Zero}
}

// Grams returns the amount in the base unit.
func (q Quantity) Grams() decimal.Decimal {
	return q.grams
}

// In converts the quantity into the requested unit.
func (q Quantity) In(unit string) (decimal.Decimal, error) {
	factor, err := unitFactor(unit)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return q.grams.Div(factor), nil
}

// String returns the quantity formatted in grams (e.g., "300 g").
func (q Quantity) String() string {
	return q.grams.String() + " " + UnitGram
}

// IsZero checks if the quantity is zero
func (q Quantity) IsZero() bool {
	return q.grams.IsZero()
}

// IsPositive checks if the quantity is strictly positive
func (q Quantity) IsPositive() bool {
	return q.grams.IsPositive()
}

// Equal checks if two quantities are equal
func (q Quantity) Equal(other Quantity) bool {
	return q.grams.Equal(other.grams)
}

// Compare returns -1, 0, or 1 based on comparison with other
func (q Quantity) Compare(other Quantity) int {
	return q.grams.Cmp(other.grams)
}

// GreaterThan reports q > other.
func (q Quantity) GreaterThan(other Quantity) bool {
	return q.grams.GreaterThan(other.grams)
}

// LessThan reports q < other.
func (q Quantity) LessThan(other Quantity) bool {
	return q.grams.LessThan(other.grams)
}

// Add adds two quantities
func (q Quantity) Add(other Quantity) Quantity {
	return Quantity{grams: q.grams.Add(other.grams)}
}

// Sub subtracts other from q; the result saturates at zero since a negative
// quantity is never meaningful in coverage accounting.
func (q Quantity) Sub(other Quantity) Quantity {
	diff := q.grams.Sub(other.grams)
	if diff.IsNegative() {
		return ZeroQuantity()
	}
	return Quantity{grams: diff}
}

// Min returns the smaller of two quantities
func (q Quantity) Min(other Quantity) Quantity {
	if q.grams.LessThanOrEqual(other.grams) {
		return q
	}
	return other
}

// Ratio returns q/denominator as a decimal fraction. Returns zero when the
// denominator is zero.
func (q Quantity) Ratio(denominator Quantity) decimal.Decimal {
	if denominator.grams.IsZero() {
		return decimal.Zero
	}
	return q.grams.Div(denominator.grams)
}

// JSON marshaling
func (q Quantity) MarshalJSON() ([]byte, error) {
	data := struct {
		Amount string `json:"amount"`
		Unit   string `json:"unit"`
	}{
		Amount: q.grams.String(),
		Unit:   UnitGram,
	}
	return json.Marshal(data)
}

// JSON unmarshaling
func (q *Quantity) UnmarshalJSON(data []byte) error {
	var temp struct {
		Amount string `json:"amount"`
		Unit   string `json:"unit"`
	}

	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}

	qty, err := NewQuantityFromString(temp.Amount, temp.Unit)
	if err != nil {
		return err
	}

	*q = qty
	return nil
}

// Database scanning (implements sql.Scanner)
func (q *Quantity) Scan(value interface{}) error {
	if value == nil {
		*q = Quantity{}
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return q.scanFromString(string(v))
	case string:
		return q.scanFromString(v)
	default:
		return fmt.Errorf("cannot scan %T into Quantity", value)
	}
}

// Database value (implements driver.Valuer)
func (q Quantity) Value() (driver.Value, error) {
	// Stored as a plain decimal in grams
	return q.grams.String(), nil
}

func (q *Quantity) scanFromString(s string) error {
	if strings.HasPrefix(s, "{") {
		return q.UnmarshalJSON([]byte(s))
	}

	amount, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid quantity value: %w", err)
	}
	*q = Quantity{grams: amount}
	return nil
}

func unitFactor(unit string) (decimal.Decimal, error) {
	if unit == "" {
		return decimal.Decimal{}, fmt.Errorf("unit cannot be empty")
	}
	factor, ok := unitFactors[strings.ToLower(unit)]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("unsupported unit: %s", unit)
	}
	return factor, nil
}
