package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateCheckout(t *testing.T) {
	valid := CheckoutForm{Name: "Budi", Phone: "081234567", Email: "budi@example.com"}

	tests := []struct {
		name   string
		form   CheckoutForm
		lines  int
		fields []string
	}{
		{"valid", valid, 1, nil},
		{"surrounding spaces", CheckoutForm{Name: " Budi ", Phone: " 0812 ", Email: " budi@example.com "}, 2, nil},
		{"empty cart", valid, 0, []string{FieldItems}},
		{"all missing", CheckoutForm{}, 0, []string{FieldName, FieldPhone, FieldEmail, FieldItems}},
		{"blank name", CheckoutForm{Name: "   ", Phone: "0812", Email: "a@b.co"}, 1, []string{FieldName}},
		{"phone with symbols", CheckoutForm{Name: "Budi", Phone: "+62 812", Email: "a@b.co"}, 1, []string{FieldPhone}},
		{"email without domain dot", CheckoutForm{Name: "Budi", Phone: "0812", Email: "budi@example"}, 1, []string{FieldEmail}},
		{"email with space", CheckoutForm{Name: "Budi", Phone: "0812", Email: "bu di@example.com"}, 1, []string{FieldEmail}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateCheckout(tt.form, tt.lines)
			if len(tt.fields) == 0 {
				assert.Nil(t, errs)
				return
			}
			assert.Len(t, errs, len(tt.fields))
			for _, f := range tt.fields {
				assert.True(t, errs.Has(f), "expected error on %s", f)
			}
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := ValidationErrors{FieldPhone: "bad", FieldEmail: "worse"}
	assert.Equal(t, "validation failed: email: worse; phone: bad", errs.Error())
}
