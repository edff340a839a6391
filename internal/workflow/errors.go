package workflow

import (
	"errors"
	"fmt"

	"utilitysign/internal/bankid"
)

var (
	ErrStepNotAllowed        = errors.New("step not allowed")
	ErrMissingDocument       = errors.New("no document selected")
	ErrMissingSigningRequest = errors.New("no signing request")
	ErrNoSigningURL          = bankid.ErrNoSigningURL
)

// User-facing messages
const (
	MsgInvalidForm      = "Vennligst rett opp feilene i skjemaet."
	MsgFormUnreadable   = "Kunne ikke lese skjemaet. Vennligst prøv igjen."
	MsgUploadFailed     = "Opplasting av dokumentet feilet. Vennligst prøv igjen."
	MsgNoSigningURL     = "Kunne ikke starte BankID-signering. Vennligst prøv igjen."
	MsgLaunchFailed     = "Kunne ikke åpne BankID. Vennligst prøv igjen."
	MsgSigningFailed    = "Signeringen mislyktes. Vennligst prøv igjen."
	MsgSigningCancelled = "Signeringen ble avbrutt."
)

// ValidationError carries the field-scoped messages of a rejected form
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("form validation failed: %d invalid fields", len(e.Fields))
}

func stepError(op string, step interface{}) error {
	return fmt.Errorf("%w: %s from step %v", ErrStepNotAllowed, op, step)
}
