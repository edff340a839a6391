package model

// Form field names as used by the order form and in field-scoped error maps
const (
	FieldProductID                = "productId"
	FieldFirstName                = "firstName"
	FieldLastName                 = "lastName"
	FieldSignerEmail              = "signerEmail"
	FieldPhone                    = "phone"
	FieldAddress                  = "address"
	FieldCity                     = "city"
	FieldZip                      = "zip"
	FieldUseSameAddressForBilling = "useSameAddressForBilling"
	FieldBillingAddress           = "billingAddress"
	FieldBillingCity              = "billingCity"
	FieldBillingZip               = "billingZip"
	FieldMeterNumber              = "meterNumber"
	FieldSerialNumber             = "serialNumber"
	FieldCompanyName              = "companyName"
	FieldOrganizationNumber       = "organizationNumber"
	FieldSportsTeam               = "sportsTeam"
	FieldMarketingConsentEmail    = "marketingConsentEmail"
	FieldMarketingConsentSMS      = "marketingConsentSms"
	FieldTermsAccepted            = "termsAccepted"
)

// TextField binds a text form field name to its FormData member
type TextField struct {
	Name string
	Ref  func(*FormData) *string
}

// BoolField binds a checkbox form field name to its FormData member
type BoolField struct {
	Name string
	Ref  func(*FormData) *bool
}

// TextFields lists every text field of the order form
var TextFields = []TextField{
	{FieldProductID, func(f *FormData) *string { return &f.ProductID }},
	{FieldFirstName, func(f *FormData) *string { return &f.FirstName }},
	{FieldLastName, func(f *FormData) *string { return &f.LastName }},
	{FieldSignerEmail, func(f *FormData) *string { return &f.SignerEmail }},
	{FieldPhone, func(f *FormData) *string { return &f.Phone }},
	{FieldAddress, func(f *FormData) *string { return &f.Address }},
	{FieldCity, func(f *FormData) *string { return &f.City }},
	{FieldZip, func(f *FormData) *string { return &f.Zip }},
	{FieldBillingAddress, func(f *FormData) *string { return &f.BillingAddress }},
	{FieldBillingCity, func(f *FormData) *string { return &f.BillingCity }},
	{FieldBillingZip, func(f *FormData) *string { return &f.BillingZip }},
	{FieldMeterNumber, func(f *FormData) *string { return &f.MeterNumber }},
	{FieldSerialNumber, func(f *FormData) *string { return &f.SerialNumber }},
	{FieldCompanyName, func(f *FormData) *string { return &f.CompanyName }},
	{FieldOrganizationNumber, func(f *FormData) *string { return &f.OrganizationNumber }},
	{FieldSportsTeam, func(f *FormData) *string { return &f.SportsTeam }},
}

// BoolFields lists every checkbox of the order form
var BoolFields = []BoolField{
	{FieldUseSameAddressForBilling, func(f *FormData) *bool { return &f.UseSameAddressForBilling }},
	{FieldMarketingConsentEmail, func(f *FormData) *bool { return &f.MarketingConsentEmail }},
	{FieldMarketingConsentSMS, func(f *FormData) *bool { return &f.MarketingConsentSMS }},
	{FieldTermsAccepted, func(f *FormData) *bool { return &f.TermsAccepted }},
}

// ClearBilling empties the billing address fields
func (f *FormData) ClearBilling() {
	f.BillingAddress = ""
	f.BillingCity = ""
	f.BillingZip = ""
}
