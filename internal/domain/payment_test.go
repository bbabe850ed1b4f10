package domain_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
)

func TestPaymentSucceeded_UnmarshalAliases(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "stripePaymentId", raw: `{"stripePaymentId":"ch_1","orderId":"x","receiptUrl":"u"}`},
		{name: "legacy typo", raw: `{"stripePaumentId":"ch_1","orderId":"x","receiptUrl":"u"}`},
		{name: "chargeId", raw: `{"chargeId":"ch_1","orderId":"x","receiptUrl":"u"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var evt domain.PaymentSucceeded
			if err := json.Unmarshal([]byte(tt.raw), &evt); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if evt.ChargeID != "ch_1" {
				t.Fatalf("charge id = %q", evt.ChargeID)
			}
		})
	}
}

func TestPaymentSucceeded_Validate(t *testing.T) {
	tests := []struct {
		name  string
		event domain.PaymentSucceeded
		want  []error
	}{
		{
			name: "valid",
			event: domain.PaymentSucceeded{
				ChargeID:   "ch_1",
				OrderID:    "0d7f4c55-7f58-4a4f-9a55-4c2bb2b5d1a0",
				ReceiptURL: "https://pay.example.com/receipts/1",
			},
		},
		{
			name: "missing charge",
			event: domain.PaymentSucceeded{
				OrderID:    "0d7f4c55-7f58-4a4f-9a55-4c2bb2b5d1a0",
				ReceiptURL: "https://pay.example.com/receipts/1",
			},
			want: []error{domain.ErrChargeIDRequired},
		},
		{
			name: "all broken",
			event: domain.PaymentSucceeded{
				OrderID:    "order-1",
				ReceiptURL: "not a url",
			},
			want: []error{domain.ErrChargeIDRequired, domain.ErrOrderIDInvalid, domain.ErrReceiptURLInvalid},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := tt.event.Validate()
			if len(errs) != len(tt.want) {
				t.Fatalf("errors = %v, want %v", errs, tt.want)
			}
			for _, want := range tt.want {
				if !errors.Is(errors.Join(errs...), want) {
					t.Fatalf("expected %v in %v", want, errs)
				}
			}
		})
	}
}

func TestPaymentSessionRequestJSON(t *testing.T) {
	req := domain.PaymentSessionRequest{
		OrderID:  "order-1",
		Currency: domain.DefaultCurrency,
		Items:    []domain.PaymentSessionItem{{Name: "Widget", Quantity: 2}},
	}
	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"orderId":"order-1","currency":"usd","items":[{"name":"Widget","price":0,"quantity":2}]}`
	if string(raw) != want {
		t.Fatalf("json = %s, want %s", raw, want)
	}
}
