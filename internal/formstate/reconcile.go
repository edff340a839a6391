// Package formstate reconciles the order form held in memory with the values the
// presentation layer reports at the instant of submission.
package formstate

import (
	"context"
	"strings"

	"utilitysign/internal/model"
)

// Snapshot is a single read of the presentation layer's form: text inputs by
// field name and the checked state of checkboxes.
type Snapshot struct {
	Values  map[string]string `json:"values"`
	Checked map[string]bool   `json:"checked"`
}

// Source supplies the authoritative form snapshot at submit time
type Source interface {
	ReadForm(ctx context.Context) (Snapshot, error)
}

// SourceFunc adapts a function to Source
type SourceFunc func(ctx context.Context) (Snapshot, error)

func (f SourceFunc) ReadForm(ctx context.Context) (Snapshot, error) {
	return f(ctx)
}

// StaticSource returns the same snapshot on every read
func StaticSource(s Snapshot) Source {
	return SourceFunc(func(context.Context) (Snapshot, error) { return s, nil })
}

// Reconcile merges snapshot into mem. Text fields take the snapshot value when
// it is present and non-blank, checkboxes take the snapshot's checked state
// when reported. Billing fields are cleared when the delivery address is reused.
func Reconcile(snapshot Snapshot, mem model.FormData) model.FormData {
	out := mem

	for _, f := range model.TextFields {
		if v, ok := snapshot.Values[f.Name]; ok && strings.TrimSpace(v) != "" {
			*f.Ref(&out) = v
		}
	}
	for _, f := range model.BoolFields {
		if checked, ok := snapshot.Checked[f.Name]; ok {
			*f.Ref(&out) = checked
		}
	}

	if out.UseSameAddressForBilling {
		out.ClearBilling()
	}
	return out
}

// OutgoingFields returns the extra fields sent with the create call. Empty
// values are omitted and billing fields are never sent when the delivery
// address is reused.
func OutgoingFields(form model.FormData) map[string]string {
	fields := make(map[string]string)
	for _, f := range model.TextFields {
		v := strings.TrimSpace(*f.Ref(&form))
		if v == "" {
			continue
		}
		fields[f.Name] = v
	}
	for _, f := range model.BoolFields {
		if *f.Ref(&form) {
			fields[f.Name] = "true"
		} else {
			fields[f.Name] = "false"
		}
	}
	if form.UseSameAddressForBilling {
		delete(fields, model.FieldBillingAddress)
		delete(fields, model.FieldBillingCity)
		delete(fields, model.FieldBillingZip)
	}
	return fields
}
