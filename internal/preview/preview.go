// Package preview renders the order summary shown before signing.
package preview

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"utilitysign/internal/model"

	"github.com/cbroglie/mustache"
	"github.com/goodsign/monday"
)

const timeLayout = "Monday 2. January 2006 kl. 15:04"

// DefaultTemplate is the Norwegian order summary
const DefaultTemplate = `Ordrebekreftelse
Dokument: {{{document}}}
Opprettet: {{{date}}}
{{#product}}Produkt: {{{product}}}
{{/product}}
Kunde: {{{name}}}
E-post: {{{email}}}
Telefon: {{{phone}}}
Leveringsadresse: {{{address}}}, {{{zip}}} {{{city}}}
{{#billing}}Fakturaadresse: {{{billing}}}
{{/billing}}{{#meter}}MålepunktID: {{{meter}}}
{{/meter}}{{#company}}Firma: {{{company}}} (org.nr. {{{orgnr}}})
{{/company}}{{#sportsTeam}}Idrettslag: {{{sportsTeam}}}
{{/sportsTeam}}
Signeres med BankID.`

// Renderer renders the preview text
type Renderer struct {
	tmpl *mustache.Template
	loc  *time.Location
}

// NewRenderer parses the template; an empty template selects DefaultTemplate
func NewRenderer(template string) (*Renderer, error) {
	if template == "" {
		template = DefaultTemplate
	}
	tmpl, err := mustache.ParseString(template)
	if err != nil {
		return nil, fmt.Errorf("failed to parse preview template: %w", err)
	}
	loc, err := time.LoadLocation("Europe/Oslo")
	if err != nil {
		loc = time.UTC
	}
	return &Renderer{tmpl: tmpl, loc: loc}, nil
}

// Render fills the template for doc and form. product may be nil.
func (r *Renderer) Render(doc *model.Document, form model.FormData, product *model.Product, at time.Time) (string, error) {
	if doc == nil {
		return "", fmt.Errorf("no document to preview")
	}

	title := doc.Title
	if title == "" {
		title = doc.FileName
	}
	if title == "" {
		title = doc.ID
	}

	vars := map[string]interface{}{
		"document": title,
		"date":     monday.Format(at.In(r.loc), timeLayout, monday.LocaleNbNO),
		"name":     form.SignerName(),
		"email":    form.SignerEmail,
		"phone":    form.Phone,
		"address":  form.Address,
		"zip":      form.Zip,
		"city":     form.City,
	}
	if product != nil {
		vars["product"] = product.Name
		if product.IsBusiness {
			vars["company"] = form.CompanyName
			vars["orgnr"] = form.OrganizationNumber
		}
		if product.IsSportsSponsorship {
			vars["sportsTeam"] = form.SportsTeam
		}
	}
	if !form.UseSameAddressForBilling && form.BillingAddress != "" {
		vars["billing"] = strings.TrimSpace(fmt.Sprintf("%s, %s %s", form.BillingAddress, form.BillingZip, form.BillingCity))
	}
	if form.MeterNumber != "" {
		vars["meter"] = form.MeterNumber
	}

	return r.tmpl.Render(vars)
}
