package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// taxRate is the PPN applied on top of the subtotal.
var taxRate = decimal.New(1, -1)

// Amount is an integer amount of currency units. On the wire it may arrive
// as a JSON number or as a numeric string such as "15000.00".
type Amount int64

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = 0
		return nil
	}
	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("amount %q: %w", raw, err)
	}
	*a = Amount(d.Round(0).IntPart())
	return nil
}

// Tax returns the 10% PPN of subtotal rounded to the nearest unit.
func Tax(subtotal Amount) Amount {
	return Amount(decimal.NewFromInt(int64(subtotal)).Mul(taxRate).Round(0).IntPart())
}

type Totals struct {
	Subtotal Amount `json:"subtotal"`
	Tax      Amount `json:"tax"`
	Total    Amount `json:"total"`
}

func NewTotals(subtotal Amount) Totals {
	tax := Tax(subtotal)
	return Totals{Subtotal: subtotal, Tax: tax, Total: subtotal + tax}
}
