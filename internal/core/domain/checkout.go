package domain

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^\d+$`)
)

// Field keys shared by client-side validation and backend 422 responses.
const (
	FieldName  = "name"
	FieldPhone = "phone"
	FieldEmail = "email"
	FieldItems = "items"
)

// CheckoutForm holds the customer contact fields entered at checkout.
type CheckoutForm struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
	Note  string `json:"note"`
}

// Trimmed returns the form with surrounding whitespace removed.
func (f CheckoutForm) Trimmed() CheckoutForm {
	return CheckoutForm{
		Name:  strings.TrimSpace(f.Name),
		Phone: strings.TrimSpace(f.Phone),
		Email: strings.TrimSpace(f.Email),
		Note:  strings.TrimSpace(f.Note),
	}
}

// ValidationErrors maps a field key to its message.
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, v[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Has reports whether field has an error.
func (v ValidationErrors) Has(field string) bool {
	_, ok := v[field]
	return ok
}

// ValidateCheckout checks the form and cart before an order is submitted.
// It returns nil when the submission may proceed.
func ValidateCheckout(form CheckoutForm, cartLines int) ValidationErrors {
	f := form.Trimmed()
	errs := ValidationErrors{}

	if f.Name == "" {
		errs[FieldName] = "name is required"
	}

	switch {
	case f.Phone == "":
		errs[FieldPhone] = "phone is required"
	case !phonePattern.MatchString(f.Phone):
		errs[FieldPhone] = "phone must contain digits only"
	}

	switch {
	case f.Email == "":
		errs[FieldEmail] = "email is required"
	case !emailPattern.MatchString(f.Email):
		errs[FieldEmail] = "email is not a valid address"
	}

	if cartLines == 0 {
		errs[FieldItems] = "cart is empty"
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}
