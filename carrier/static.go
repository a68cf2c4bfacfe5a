package carrier

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/commercekit/conduct"
)

// Static is an in-process provider for development and testing. It
// issues deterministic labels and honors the idempotency contract: the
// same key always returns the same label. Failure injection fields make
// it usable as a fault-injection double.
type Static struct {
	// CarrierName is the registry key; "static" when empty.
	CarrierName string
	// CreateErr, when set, makes every CreateLabel call fail.
	CreateErr error
	// VoidOutcome, when set, is returned verbatim by VoidLabel.
	VoidOutcome *VoidResult

	mu     sync.Mutex
	labels map[string]*LabelResult
	serial atomic.Int64
}

var _ Provider = (*Static)(nil)

// Name implements Provider.
func (s *Static) Name() string {
	if s.CarrierName == "" {
		return "static"
	}
	return s.CarrierName
}

// CreateLabel issues a label, deduplicating by idempotency key.
func (s *Static) CreateLabel(_ context.Context, idempotencyKey string, req LabelRequest) (*LabelResult, error) {
	if s.CreateErr != nil {
		return nil, conduct.E(conduct.KindExternalProvider, "static: create label", s.CreateErr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.labels == nil {
		s.labels = make(map[string]*LabelResult)
	}
	if existing, ok := s.labels[idempotencyKey]; ok {
		cp := *existing
		return &cp, nil
	}

	n := s.serial.Add(1)
	label := &LabelResult{
		LabelID:        fmt.Sprintf("lbl-%s-%d", s.Name(), n),
		TrackingNumber: fmt.Sprintf("TRK%08d", n),
		TrackingURL:    fmt.Sprintf("https://track.example.com/TRK%08d", n),
		LabelURL:       fmt.Sprintf("https://labels.example.com/lbl-%d.pdf", n),
		Carrier:        s.Name(),
		Service:        req.Service,
		Cost:           795,
	}
	s.labels[idempotencyKey] = label

	cp := *label
	return &cp, nil
}

// CreateCalls reports how many distinct labels have been issued. A
// retried purchase with the same idempotency key does not increase this.
func (s *Static) CreateCalls() int64 { return s.serial.Load() }

// VoidLabel reports success unless VoidOutcome overrides it.
func (s *Static) VoidLabel(_ context.Context, _ string) (*VoidResult, error) {
	if s.VoidOutcome != nil {
		cp := *s.VoidOutcome
		return &cp, nil
	}
	return &VoidResult{Success: true, RefundAmount: 795}, nil
}
