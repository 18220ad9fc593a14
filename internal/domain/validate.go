package domain

import (
	"regexp"
	"strings"
)

// ValidationErrors maps field names to one or more human-readable messages.
// An empty map means the fields are well formed.
type ValidationErrors map[string][]string

// Valid reports whether no field failed validation.
func (v ValidationErrors) Valid() bool {
	return len(v) == 0
}

func (v ValidationErrors) add(field, message string) {
	v[field] = append(v[field], message)
}

// Permissive on purpose: the mail collaborator is the final arbiter, this only
// catches obviously malformed addresses before any side effect occurs.
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ValidateOrderFields checks the contact, shipping, and billing fields of a
// submission. Pure function, no I/O. Card numbers are deliberately not
// validated here; that is the payment gateway's job.
func ValidateOrderFields(contact ContactInfo, shipping ShippingInfo, billing BillingInfo) ValidationErrors {
	errs := ValidationErrors{}

	requireField(errs, "contactName", contact.Name, "Please enter a name")
	requireField(errs, "contactEmail", contact.Email, "Please enter an email address")
	if email := strings.TrimSpace(contact.Email); email != "" && !emailPattern.MatchString(email) {
		errs.add("contactEmail", "Please enter a valid email address")
	}
	requireField(errs, "contactPhone", contact.Phone, "Please enter a phone number")

	requireField(errs, "shippingName", shipping.Name, "Please enter a name")
	requireField(errs, "shippingAddress1", shipping.AddressLine1, "Please enter an address")
	requireField(errs, "shippingCity", shipping.City, "Please enter a city")
	requireField(errs, "shippingState", shipping.State, "Please enter a state")
	requireField(errs, "shippingZip", shipping.Zip, "Please enter a ZIP code")

	requireField(errs, "cardholderName", billing.CardholderName, "Please enter the cardholder's name")
	requireField(errs, "billingAddress1", billing.AddressLine1, "Please enter an address")
	requireField(errs, "billingCity", billing.City, "Please enter a city")
	requireField(errs, "billingState", billing.State, "Please enter a state")
	requireField(errs, "billingZip", billing.Zip, "Please enter a ZIP code")

	return errs
}

func requireField(errs ValidationErrors, field, value, message string) {
	if strings.TrimSpace(value) == "" {
		errs.add(field, message)
	}
}
