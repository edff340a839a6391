// Package validator checks order form fields before a signing request is created.
package validator

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"utilitysign/internal/model"
)

// MeterPrefix is the GS1 prefix of Norwegian metering points: country code 70
// followed by industry code 70575.
const MeterPrefix = "7070575"

const (
	MsgFirstNameRequired = "Fornavn er påkrevd"
	MsgFirstNameShort    = "Fornavn må være minst 2 tegn"
	MsgLastNameRequired  = "Etternavn er påkrevd"
	MsgLastNameShort     = "Etternavn må være minst 2 tegn"
	MsgEmailRequired     = "E-post er påkrevd"
	MsgEmailInvalid      = "Ugyldig e-postadresse"
	MsgPhoneRequired     = "Telefonnummer er påkrevd"
	MsgAddressRequired   = "Adresse er påkrevd"
	MsgCityRequired      = "Poststed er påkrevd"
	MsgZipRequired       = "Postnummer er påkrevd"

	MsgBillingAddressRequired = "Fakturaadresse er påkrevd"
	MsgBillingCityRequired    = "Fakturapoststed er påkrevd"
	MsgBillingZipRequired     = "Fakturapostnummer er påkrevd"

	MsgMeterLength   = "MålepunktID må være 18 siffer"
	MsgMeterPrefix   = "MålepunktID må starte med " + MeterPrefix
	MsgSerialDigits  = "Serienummer kan kun inneholde siffer"
	MsgCompanyName   = "Firmanavn er påkrevd"
	MsgCompanyShort  = "Firmanavn må være minst 2 tegn"
	MsgOrgNrRequired = "Organisasjonsnummer er påkrevd"
	MsgOrgNrFormat   = "Organisasjonsnummer må være 9 siffer"
	MsgSportsTeam    = "Idrettslag må velges"
)

var (
	emailPattern  = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	digitsPattern = regexp.MustCompile(`^[0-9]+$`)
	meterPattern  = regexp.MustCompile(`^[0-9]{18}$`)
	orgNrPattern  = regexp.MustCompile(`^[0-9]{9}$`)
)

// Result holds field-scoped validation messages
type Result struct {
	Errors  map[string]string `json:"errors"`
	IsValid bool              `json:"isValid"`
}

// Validate checks form against the rules of the order form. product may be nil,
// in which case no product-conditional field is required.
func Validate(form model.FormData, product *model.Product) Result {
	errs := make(map[string]string)

	requireName(errs, model.FieldFirstName, form.FirstName, MsgFirstNameRequired, MsgFirstNameShort)
	requireName(errs, model.FieldLastName, form.LastName, MsgLastNameRequired, MsgLastNameShort)

	email := strings.TrimSpace(form.SignerEmail)
	switch {
	case email == "":
		errs[model.FieldSignerEmail] = MsgEmailRequired
	case !emailPattern.MatchString(email):
		errs[model.FieldSignerEmail] = MsgEmailInvalid
	}

	requireText(errs, model.FieldPhone, form.Phone, MsgPhoneRequired)
	requireText(errs, model.FieldAddress, form.Address, MsgAddressRequired)
	requireText(errs, model.FieldCity, form.City, MsgCityRequired)
	requireText(errs, model.FieldZip, form.Zip, MsgZipRequired)

	if !form.UseSameAddressForBilling {
		requireText(errs, model.FieldBillingAddress, form.BillingAddress, MsgBillingAddressRequired)
		requireText(errs, model.FieldBillingCity, form.BillingCity, MsgBillingCityRequired)
		requireText(errs, model.FieldBillingZip, form.BillingZip, MsgBillingZipRequired)
	}

	if msg := ValidateMeterNumber(form.MeterNumber); msg != "" {
		errs[model.FieldMeterNumber] = msg
	}

	if serial := strings.TrimSpace(form.SerialNumber); serial != "" && !digitsPattern.MatchString(serial) {
		errs[model.FieldSerialNumber] = MsgSerialDigits
	}

	if product != nil && product.IsBusiness {
		requireName(errs, model.FieldCompanyName, form.CompanyName, MsgCompanyName, MsgCompanyShort)
		orgNr := stripSpaces(form.OrganizationNumber)
		switch {
		case orgNr == "":
			errs[model.FieldOrganizationNumber] = MsgOrgNrRequired
		case !orgNrPattern.MatchString(orgNr):
			errs[model.FieldOrganizationNumber] = MsgOrgNrFormat
		}
	}

	if product != nil && product.IsSportsSponsorship {
		requireText(errs, model.FieldSportsTeam, form.SportsTeam, MsgSportsTeam)
	}

	return Result{Errors: errs, IsValid: len(errs) == 0}
}

// ValidateMeterNumber returns the message for an invalid MålepunktID, or "" when
// the value is empty or a well-formed 18 digit id with the Norwegian prefix.
func ValidateMeterNumber(meterNumber string) string {
	meter := stripSpaces(meterNumber)
	if meter == "" {
		return ""
	}
	if !meterPattern.MatchString(meter) {
		return MsgMeterLength
	}
	if !strings.HasPrefix(meter, MeterPrefix) {
		return MsgMeterPrefix
	}
	return ""
}

func requireText(errs map[string]string, field, value, msg string) {
	if strings.TrimSpace(value) == "" {
		errs[field] = msg
	}
}

func requireName(errs map[string]string, field, value, required, short string) {
	v := strings.TrimSpace(value)
	switch {
	case v == "":
		errs[field] = required
	case utf8.RuneCountInString(v) < 2:
		errs[field] = short
	}
}

func stripSpaces(s string) string {
	return strings.Join(strings.Fields(s), "")
}
