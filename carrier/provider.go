// Package carrier defines the shipping provider boundary: label purchase
// and void against external carrier APIs. Providers must honor the
// idempotency key attached to purchase calls so a retried request never
// buys a second label.
package carrier

import "context"

// Address is a shipping address as the carrier expects it.
type Address struct {
	Name       string `json:"name,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Parcel describes the physical package. Weight is in grams, dimensions
// in millimeters.
type Parcel struct {
	WeightGrams int `json:"weight_grams"`
	LengthMM    int `json:"length_mm,omitempty"`
	WidthMM     int `json:"width_mm,omitempty"`
	HeightMM    int `json:"height_mm,omitempty"`
}

// LabelRequest is the input to a label purchase.
type LabelRequest struct {
	Reference string  `json:"reference"` // fulfillment identifier, for carrier-side reconciliation
	Service   string  `json:"service,omitempty"`
	From      Address `json:"from"`
	To        Address `json:"to"`
	Parcel    Parcel  `json:"parcel"`
}

// LabelResult is a purchased label. Cost is in minor currency units.
type LabelResult struct {
	LabelID        string `json:"label_id"`
	TrackingNumber string `json:"tracking_number"`
	TrackingURL    string `json:"tracking_url,omitempty"`
	LabelURL       string `json:"label_url,omitempty"`
	Carrier        string `json:"carrier"`
	Service        string `json:"service,omitempty"`
	Cost           int64  `json:"cost"`
}

// VoidResult is the outcome of a void call. A failed void is a value,
// not an error: the caller records it and flags for manual intervention.
type VoidResult struct {
	Success      bool   `json:"success"`
	RefundAmount int64  `json:"refund_amount,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Provider is one shipping carrier integration.
type Provider interface {
	// Name is the registry key for this provider.
	Name() string

	// CreateLabel purchases a shipping label. The idempotencyKey lets the
	// provider deduplicate retries of the same logical purchase; calling
	// twice with the same key must return the same label, not buy two.
	CreateLabel(ctx context.Context, idempotencyKey string, req LabelRequest) (*LabelResult, error)

	// VoidLabel requests cancellation and refund of a purchased label.
	// Carrier-side rejection surfaces as VoidResult{Success: false};
	// transport failures surface as an error.
	VoidLabel(ctx context.Context, labelID string) (*VoidResult, error)
}
