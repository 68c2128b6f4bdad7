package handlers

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/philiapseudo-collab/dumu-apparels/internal/metrics"
	"github.com/philiapseudo-collab/dumu-apparels/internal/repo"
)

func seedMpesaOrder(r *fakeRepo, orderID int64, reference string) {
	r.users[1] = &repo.User{ID: 1, InstagramID: "900300"}
	r.orders[orderID] = &repo.Order{
		ID:              orderID,
		UserID:          1,
		ProductID:       5,
		Amount:          decimal.RequireFromString("4500.00"),
		Status:          repo.OrderStatusPending,
		PaymentProvider: repo.ProviderKopokopo,
		TransactionRef:  &reference,
	}
}

func callbackPayload(reference, status, receipt string) map[string]any {
	attrs := map[string]any{
		"status":   status,
		"metadata": map[string]any{"reference": reference},
	}
	if receipt != "" {
		attrs["event"] = map[string]any{
			"resource": map[string]any{"reference": receipt},
		}
	}
	return map[string]any{
		"data": map[string]any{
			"type":       "incoming_payment",
			"attributes": attrs,
		},
	}
}

func newCallbackProcessor(t *testing.T, r *fakeRepo, notifier *fakeNotifier) *KopokopoCallbackProcessor {
	t.Helper()
	return NewKopokopoCallbackProcessor(slog.Default(), metrics.Registry("dumu_handlers_test"), r, notifier)
}

func TestCallbackSettlesSuccessfulCharge(t *testing.T) {
	r := newFakeRepo()
	seedMpesaOrder(r, 50, "charge-50")
	notifier := &fakeNotifier{}
	p := newCallbackProcessor(t, r, notifier)

	result, err := p.ProcessCallback(context.Background(), callbackPayload("charge-50", "Success", "QJR7TX91K2"))
	if err != nil {
		t.Fatalf("process callback: %v", err)
	}
	if !result.Settled || result.Status != repo.OrderStatusPaid {
		t.Fatalf("unexpected result %+v", result)
	}
	if r.orders[50].Status != repo.OrderStatusPaid {
		t.Fatalf("order status = %s", r.orders[50].Status)
	}
	if r.lastRef != "QJR7TX91K2" {
		t.Fatalf("settle ref = %q, want the provider receipt", r.lastRef)
	}
	if len(notifier.texts) != 1 || !strings.Contains(notifier.texts[0], "Payment successful") {
		t.Fatalf("unexpected notifications %v", notifier.texts)
	}
}

func TestCallbackSettlesFailedCharge(t *testing.T) {
	r := newFakeRepo()
	seedMpesaOrder(r, 51, "charge-51")
	notifier := &fakeNotifier{}
	p := newCallbackProcessor(t, r, notifier)

	result, err := p.ProcessCallback(context.Background(), callbackPayload("charge-51", "Failed", ""))
	if err != nil {
		t.Fatalf("process callback: %v", err)
	}
	if !result.Settled || result.Status != repo.OrderStatusFailed {
		t.Fatalf("unexpected result %+v", result)
	}
	if r.lastRef != "charge-51" {
		t.Fatalf("settle ref = %q, want the charge reference kept", r.lastRef)
	}
	if len(notifier.texts) != 1 || !strings.Contains(notifier.texts[0], "was not successful") {
		t.Fatalf("unexpected notifications %v", notifier.texts)
	}
}

func TestCallbackLeavesPendingChargeAlone(t *testing.T) {
	r := newFakeRepo()
	seedMpesaOrder(r, 52, "charge-52")
	p := newCallbackProcessor(t, r, &fakeNotifier{})

	result, err := p.ProcessCallback(context.Background(), callbackPayload("charge-52", "Pending", ""))
	if err != nil {
		t.Fatalf("process callback: %v", err)
	}
	if result.Settled || result.Status != repo.OrderStatusPending {
		t.Fatalf("unexpected result %+v", result)
	}
	if r.settleCalls != 0 {
		t.Fatal("settle should not be attempted for an undecided status")
	}
}

func TestCallbackSkipsTerminalOrder(t *testing.T) {
	r := newFakeRepo()
	seedMpesaOrder(r, 53, "charge-53")
	r.orders[53].Status = repo.OrderStatusPaid
	notifier := &fakeNotifier{}
	p := newCallbackProcessor(t, r, notifier)

	result, err := p.ProcessCallback(context.Background(), callbackPayload("charge-53", "Success", ""))
	if err != nil {
		t.Fatalf("process callback: %v", err)
	}
	if result.Settled {
		t.Fatal("terminal order must not settle again")
	}
	if len(notifier.texts) != 0 {
		t.Fatalf("no duplicate notification expected, got %v", notifier.texts)
	}
}

func TestCallbackSkipsUnknownReference(t *testing.T) {
	r := newFakeRepo()
	p := newCallbackProcessor(t, r, &fakeNotifier{})

	result, err := p.ProcessCallback(context.Background(), callbackPayload("charge-99", "Success", ""))
	if err != nil {
		t.Fatalf("process callback: %v", err)
	}
	if result.Status != "skipped" {
		t.Fatalf("unexpected result %+v", result)
	}
	if r.settleCalls != 0 {
		t.Fatal("settle should not run for an unknown reference")
	}
}

func TestCallbackSkipsMalformedPayloads(t *testing.T) {
	r := newFakeRepo()
	p := newCallbackProcessor(t, r, &fakeNotifier{})

	payloads := []map[string]any{
		{},
		{"data": "nope"},
		{"data": map[string]any{"attributes": map[string]any{"status": "Success"}}},
	}
	for i, payload := range payloads {
		result, err := p.ProcessCallback(context.Background(), payload)
		if err != nil {
			t.Fatalf("payload %d: %v", i, err)
		}
		if result.Status != "skipped" {
			t.Fatalf("payload %d: unexpected result %+v", i, result)
		}
	}
}
