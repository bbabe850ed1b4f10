package domain

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultCurrency — валюта платёжной сессии.
const DefaultCurrency = "usd"

// PaymentSessionItem — строка платёжной сессии.
type PaymentSessionItem struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// PaymentSessionRequest отправляется в платёжный сервис.
type PaymentSessionRequest struct {
	OrderID  string               `json:"orderId"`
	Currency string               `json:"currency"`
	Items    []PaymentSessionItem `json:"items"`
}

// PaymentSession — непрозрачный ответ платёжного сервиса, возвращается вызывающему как есть.
type PaymentSession = json.RawMessage

// PaymentSucceeded — событие об успешной оплате.
type PaymentSucceeded struct {
	ChargeID   string `json:"stripePaymentId"`
	OrderID    string `json:"orderId"`
	ReceiptURL string `json:"receiptUrl"`
}

// UnmarshalJSON принимает идентификатор платежа под любым из известных имён.
func (p *PaymentSucceeded) UnmarshalJSON(data []byte) error {
	var raw struct {
		StripePaymentID string `json:"stripePaymentId"`
		StripePaumentID string `json:"stripePaumentId"`
		ChargeID        string `json:"chargeId"`
		OrderID         string `json:"orderId"`
		ReceiptURL      string `json:"receiptUrl"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	p.ChargeID = firstNonEmpty(raw.StripePaymentID, raw.StripePaumentID, raw.ChargeID)
	p.OrderID = raw.OrderID
	p.ReceiptURL = raw.ReceiptURL
	return nil
}

// Validate проверяет событие оплаты и возвращает ошибки, если они есть.
func (p *PaymentSucceeded) Validate() []error {
	var errs []error

	if strings.TrimSpace(p.ChargeID) == "" {
		errs = append(errs, ErrChargeIDRequired)
	}
	if _, err := uuid.Parse(p.OrderID); err != nil {
		errs = append(errs, ErrOrderIDInvalid)
	}
	if !isAbsoluteURL(p.ReceiptURL) {
		errs = append(errs, ErrReceiptURLInvalid)
	}

	return errs
}

func isAbsoluteURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
