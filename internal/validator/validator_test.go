package validator

import (
	"testing"

	"utilitysign/internal/model"

	"github.com/stretchr/testify/assert"
)

func validForm() model.FormData {
	return model.FormData{
		FirstName:                "Jo",
		LastName:                 "Doe",
		SignerEmail:              "jo@example.com",
		Phone:                    "12345678",
		Address:                  "Storgata 1",
		City:                     "Oslo",
		Zip:                      "0155",
		UseSameAddressForBilling: true,
	}
}

func TestValidate_ValidForm(t *testing.T) {
	result := Validate(validForm(), nil)

	assert.True(t, result.IsValid)
	assert.Empty(t, result.Errors)
}

func TestValidate_ShortMeterNumber(t *testing.T) {
	form := validForm()
	form.MeterNumber = "12345"

	result := Validate(form, nil)

	assert.False(t, result.IsValid)
	assert.Equal(t, map[string]string{model.FieldMeterNumber: MsgMeterLength}, result.Errors)
}

func TestValidateMeterNumber(t *testing.T) {
	t.Run("empty is valid", func(t *testing.T) {
		assert.Empty(t, ValidateMeterNumber(""))
		assert.Empty(t, ValidateMeterNumber("   "))
	})

	t.Run("18 digits with prefix", func(t *testing.T) {
		assert.Empty(t, ValidateMeterNumber("707057500088553215"))
	})

	t.Run("whitespace is stripped", func(t *testing.T) {
		assert.Empty(t, ValidateMeterNumber("7070575 0008 8553 215"))
	})

	t.Run("17 digits", func(t *testing.T) {
		assert.Equal(t, MsgMeterLength, ValidateMeterNumber("70705750008855321"))
	})

	t.Run("wrong prefix", func(t *testing.T) {
		assert.Equal(t, MsgMeterPrefix, ValidateMeterNumber("701234500088553215"))
	})

	t.Run("letters", func(t *testing.T) {
		assert.Equal(t, MsgMeterLength, ValidateMeterNumber("70705750008855321X"))
	})
}

func TestValidate_RequiredFields(t *testing.T) {
	result := Validate(model.FormData{UseSameAddressForBilling: true}, nil)

	assert.False(t, result.IsValid)
	assert.Equal(t, map[string]string{
		model.FieldFirstName:   MsgFirstNameRequired,
		model.FieldLastName:    MsgLastNameRequired,
		model.FieldSignerEmail: MsgEmailRequired,
		model.FieldPhone:       MsgPhoneRequired,
		model.FieldAddress:     MsgAddressRequired,
		model.FieldCity:        MsgCityRequired,
		model.FieldZip:         MsgZipRequired,
	}, result.Errors)
}

func TestValidate_Names(t *testing.T) {
	form := validForm()
	form.FirstName = "J"
	form.LastName = " D "

	result := Validate(form, nil)

	assert.Equal(t, MsgFirstNameShort, result.Errors[model.FieldFirstName])
	assert.Equal(t, MsgLastNameShort, result.Errors[model.FieldLastName])
}

func TestValidate_Email(t *testing.T) {
	for _, email := range []string{"jo", "jo@example", "jo @example.com", "@example.com"} {
		form := validForm()
		form.SignerEmail = email
		assert.Equal(t, MsgEmailInvalid, Validate(form, nil).Errors[model.FieldSignerEmail], email)
	}
}

func TestValidate_Billing(t *testing.T) {
	t.Run("required when billing differs", func(t *testing.T) {
		form := validForm()
		form.UseSameAddressForBilling = false

		result := Validate(form, nil)

		assert.Equal(t, map[string]string{
			model.FieldBillingAddress: MsgBillingAddressRequired,
			model.FieldBillingCity:    MsgBillingCityRequired,
			model.FieldBillingZip:     MsgBillingZipRequired,
		}, result.Errors)
	})

	t.Run("ignored when same address", func(t *testing.T) {
		form := validForm()
		form.BillingAddress = " "

		assert.True(t, Validate(form, nil).IsValid)
	})
}

func TestValidate_SerialNumber(t *testing.T) {
	form := validForm()
	form.SerialNumber = "12AB"
	assert.Equal(t, MsgSerialDigits, Validate(form, nil).Errors[model.FieldSerialNumber])

	form.SerialNumber = "0012345"
	assert.True(t, Validate(form, nil).IsValid)
}

func TestValidate_BusinessProduct(t *testing.T) {
	business := &model.Product{ID: "bedrift", IsBusiness: true}

	t.Run("fields required", func(t *testing.T) {
		result := Validate(validForm(), business)

		assert.Equal(t, MsgCompanyName, result.Errors[model.FieldCompanyName])
		assert.Equal(t, MsgOrgNrRequired, result.Errors[model.FieldOrganizationNumber])
	})

	t.Run("organization number format", func(t *testing.T) {
		form := validForm()
		form.CompanyName = "Kraft AS"
		form.OrganizationNumber = "12345678"

		assert.Equal(t, MsgOrgNrFormat, Validate(form, business).Errors[model.FieldOrganizationNumber])

		form.OrganizationNumber = "123 456 789"
		assert.True(t, Validate(form, business).IsValid)
	})

	t.Run("not required for private products", func(t *testing.T) {
		assert.True(t, Validate(validForm(), &model.Product{ID: "privat"}).IsValid)
	})
}

func TestValidate_SportsProduct(t *testing.T) {
	sports := &model.Product{ID: "sport", IsSportsSponsorship: true}

	assert.Equal(t, MsgSportsTeam, Validate(validForm(), sports).Errors[model.FieldSportsTeam])

	form := validForm()
	form.SportsTeam = "Lyn"
	assert.True(t, Validate(form, sports).IsValid)
}

func TestValidate_DoesNotMutate(t *testing.T) {
	form := validForm()
	form.MeterNumber = " 7070575 00088553215 "
	before := form

	first := Validate(form, nil)
	second := Validate(form, nil)

	assert.Equal(t, before, form)
	assert.Equal(t, first, second)
}
