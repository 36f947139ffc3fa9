// Package faultcode resolves boiler fault codes against per-manufacturer
// datasets through a layered waterfall: result cache, embedded datasets,
// then an optional remote source. Datasets are loaded lazily on first use;
// concurrent callers during a cold start share a single load.
package faultcode

import "context"

// Record is a single fault-code entry. Immutable once loaded; Code is
// always stored upper-cased.
type Record struct {
	Code                 string   `json:"code"`
	Manufacturer         string   `json:"manufacturer"`
	Description          string   `json:"description"`
	TroubleshootingSteps string   `json:"troubleshooting_steps"`
	SafetyWarning        string   `json:"safety_warning,omitempty"`
	Components           []string `json:"components,omitempty"`
}

// Result is the structured outcome of a lookup. Invalid input and
// not-found are both reported here with Found=false, never as an error;
// the error return of Find is reserved for engine unavailability.
type Result struct {
	Found   bool     `json:"found"`
	Message string   `json:"message"`
	Matches []Record `json:"matches"`
}

// Source is a remote lookup tier, fronting a managed store. Queried only
// when the local datasets miss. A nil *Record with nil error means no row.
type Source interface {
	QueryByManufacturerAndCode(ctx context.Context, manufacturer, code string) (*Record, error)
}
