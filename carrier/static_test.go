package carrier_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/commercekit/conduct"
	"github.com/commercekit/conduct/carrier"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStatic_CreateLabelDedupesByKey(t *testing.T) {
	p := &carrier.Static{}
	ctx := context.Background()

	first, err := p.CreateLabel(ctx, "key-1", carrier.LabelRequest{Service: "ground"})
	if err != nil {
		t.Fatalf("CreateLabel: %v", err)
	}
	again, err := p.CreateLabel(ctx, "key-1", carrier.LabelRequest{Service: "ground"})
	if err != nil {
		t.Fatalf("CreateLabel retry: %v", err)
	}

	if again.LabelID != first.LabelID {
		t.Errorf("retry LabelID = %q, want %q", again.LabelID, first.LabelID)
	}
	if got := p.CreateCalls(); got != 1 {
		t.Errorf("CreateCalls() = %d, want 1", got)
	}

	other, err := p.CreateLabel(ctx, "key-2", carrier.LabelRequest{})
	if err != nil {
		t.Fatalf("CreateLabel key-2: %v", err)
	}
	if other.LabelID == first.LabelID {
		t.Error("distinct keys must get distinct labels")
	}
	if got := p.CreateCalls(); got != 2 {
		t.Errorf("CreateCalls() = %d, want 2", got)
	}
}

func TestStatic_CreateErr(t *testing.T) {
	cause := errors.New("provider offline")
	p := &carrier.Static{CreateErr: cause}

	_, err := p.CreateLabel(context.Background(), "key", carrier.LabelRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, cause) {
		t.Errorf("error does not wrap cause: %v", err)
	}
	if conduct.KindOf(err) != conduct.KindExternalProvider {
		t.Errorf("KindOf = %v, want KindExternalProvider", conduct.KindOf(err))
	}
}

func TestStatic_VoidOutcomeOverride(t *testing.T) {
	p := &carrier.Static{}
	ctx := context.Background()

	res, err := p.VoidLabel(ctx, "lbl-1")
	if err != nil {
		t.Fatalf("VoidLabel: %v", err)
	}
	if !res.Success {
		t.Error("default VoidLabel should succeed")
	}

	p.VoidOutcome = &carrier.VoidResult{Success: false, Error: "in transit"}
	res, err = p.VoidLabel(ctx, "lbl-1")
	if err != nil {
		t.Fatalf("VoidLabel: %v", err)
	}
	if res.Success || res.Error != "in transit" {
		t.Errorf("override not honored: %+v", res)
	}
}

func TestRegistry_ResolveFallsBackToDefault(t *testing.T) {
	r := carrier.NewRegistry("static", discardLogger())
	r.Register(&carrier.Static{})

	p, err := r.Resolve("legacy-carrier")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.Name() != "static" {
		t.Errorf("Name() = %q, want default %q", p.Name(), "static")
	}

	p, err = r.Resolve("")
	if err != nil {
		t.Fatalf("Resolve empty: %v", err)
	}
	if p.Name() != "static" {
		t.Errorf("Name() = %q, want default %q", p.Name(), "static")
	}
}

func TestRegistry_ResolveWithoutDefault(t *testing.T) {
	r := carrier.NewRegistry("missing", discardLogger())

	if _, err := r.Resolve("anything"); err == nil {
		t.Fatal("expected error when no provider matches and no default exists")
	}
}
