// Package payhere builds signed checkout requests for the PayHere hosted
// checkout and verifies the signed notifications it posts back.
package payhere

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrMissingCredentials = errors.New("payhere: merchant id and secret are required")
	ErrInvalidAmount      = errors.New("payhere: amount must be positive")
)

// Status codes posted in status_code.
const (
	CodeSuccess    = "2"
	CodePending    = "0"
	CodeCanceled   = "-1"
	CodeFailed     = "-2"
	CodeChargeback = "-3"
)

// Outcome is the processor-neutral meaning of a status code.
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomePending    Outcome = "pending"
	OutcomeCanceled   Outcome = "canceled"
	OutcomeFailed     Outcome = "failed"
	OutcomeChargeback Outcome = "chargedback"
	OutcomeUnknown    Outcome = "unknown"
)

// MapStatus never drops a code: anything unrecognised is OutcomeUnknown.
func MapStatus(code string) Outcome {
	switch strings.TrimSpace(code) {
	case CodeSuccess:
		return OutcomeSuccess
	case CodePending:
		return OutcomePending
	case CodeCanceled:
		return OutcomeCanceled
	case CodeFailed:
		return OutcomeFailed
	case CodeChargeback:
		return OutcomeChargeback
	default:
		return OutcomeUnknown
	}
}

type Config struct {
	MerchantID     string
	MerchantSecret string
	Currency       string
	CheckoutURL    string
	ReturnURL      string
	CancelURL      string
	NotifyURL      string
}

type Gateway struct {
	cfg        Config
	secretHash string
}

func NewGateway(cfg Config) (*Gateway, error) {
	if cfg.MerchantID == "" || cfg.MerchantSecret == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.Currency == "" {
		cfg.Currency = "LKR"
	}
	return &Gateway{
		cfg:        cfg,
		secretHash: upperMD5(cfg.MerchantSecret),
	}, nil
}

func (g *Gateway) Currency() string {
	return g.cfg.Currency
}

type Customer struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	City      string `json:"city"`
	Country   string `json:"country"`
}

// PaymentRequest is everything the hosted checkout form needs. Amount is the
// exact string that went into Hash.
type PaymentRequest struct {
	Action     string   `json:"action"`
	MerchantID string   `json:"merchant_id"`
	ReturnURL  string   `json:"return_url"`
	CancelURL  string   `json:"cancel_url"`
	NotifyURL  string   `json:"notify_url"`
	OrderID    string   `json:"order_id"`
	Items      string   `json:"items"`
	Currency   string   `json:"currency"`
	Amount     string   `json:"amount"`
	Hash       string   `json:"hash"`
	Custom1    string   `json:"custom_1,omitempty"`
	Custom2    string   `json:"custom_2,omitempty"`
	Customer   Customer `json:"customer"`
}

// Fields renders the request as the form fields posted to the checkout page.
func (p PaymentRequest) Fields() url.Values {
	v := url.Values{}
	v.Set("merchant_id", p.MerchantID)
	v.Set("return_url", p.ReturnURL)
	v.Set("cancel_url", p.CancelURL)
	v.Set("notify_url", p.NotifyURL)
	v.Set("order_id", p.OrderID)
	v.Set("items", p.Items)
	v.Set("currency", p.Currency)
	v.Set("amount", p.Amount)
	v.Set("hash", p.Hash)
	v.Set("first_name", p.Customer.FirstName)
	v.Set("last_name", p.Customer.LastName)
	v.Set("email", p.Customer.Email)
	v.Set("phone", p.Customer.Phone)
	v.Set("address", p.Customer.Address)
	v.Set("city", p.Customer.City)
	v.Set("country", p.Customer.Country)
	if p.Custom1 != "" {
		v.Set("custom_1", p.Custom1)
	}
	if p.Custom2 != "" {
		v.Set("custom_2", p.Custom2)
	}
	return v
}

// FormatAmount is the only amount formatting used for hashing and transmission.
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

// BuildPaymentRequest signs an outbound checkout request. custom1 carries the
// correlation reference echoed back in the notification.
func (g *Gateway) BuildPaymentRequest(orderID string, amount decimal.Decimal, customer Customer, items, custom1, custom2 string) (PaymentRequest, error) {
	if orderID == "" {
		return PaymentRequest{}, errors.New("payhere: order id is required")
	}
	if !amount.IsPositive() {
		return PaymentRequest{}, ErrInvalidAmount
	}

	formatted := FormatAmount(amount)
	return PaymentRequest{
		Action:     g.cfg.CheckoutURL,
		MerchantID: g.cfg.MerchantID,
		ReturnURL:  g.cfg.ReturnURL,
		CancelURL:  g.cfg.CancelURL,
		NotifyURL:  g.cfg.NotifyURL,
		OrderID:    orderID,
		Items:      items,
		Currency:   g.cfg.Currency,
		Amount:     formatted,
		Hash:       g.RequestHash(orderID, formatted, g.cfg.Currency),
		Custom1:    custom1,
		Custom2:    custom2,
		Customer:   customer,
	}, nil
}

// RequestHash = UPPER(MD5(merchant_id + order_id + amount + currency + UPPER(MD5(secret)))).
func (g *Gateway) RequestHash(orderID, formattedAmount, currency string) string {
	return upperMD5(g.cfg.MerchantID + orderID + formattedAmount + currency + g.secretHash)
}

// Notification is the form posted to notify_url. Amount and StatusCode are kept
// exactly as received because the signature covers those strings.
type Notification struct {
	MerchantID    string `json:"merchant_id"`
	OrderID       string `json:"order_id"`
	PaymentID     string `json:"payment_id"`
	Amount        string `json:"payhere_amount"`
	Currency      string `json:"payhere_currency"`
	StatusCode    string `json:"status_code"`
	MD5Sig        string `json:"-"`
	StatusMessage string `json:"status_message,omitempty"`
	Method        string `json:"method,omitempty"`
	Custom1       string `json:"custom_1,omitempty"`
	Custom2       string `json:"custom_2,omitempty"`
}

func ParseNotification(form url.Values) Notification {
	return Notification{
		MerchantID:    form.Get("merchant_id"),
		OrderID:       form.Get("order_id"),
		PaymentID:     form.Get("payment_id"),
		Amount:        form.Get("payhere_amount"),
		Currency:      form.Get("payhere_currency"),
		StatusCode:    form.Get("status_code"),
		MD5Sig:        form.Get("md5sig"),
		StatusMessage: form.Get("status_message"),
		Method:        form.Get("method"),
		Custom1:       form.Get("custom_1"),
		Custom2:       form.Get("custom_2"),
	}
}

func (n Notification) Outcome() Outcome {
	return MapStatus(n.StatusCode)
}

// AmountValue parses the received amount; the raw string stays authoritative for the signature.
func (n Notification) AmountValue() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(n.Amount))
	if err != nil {
		return decimal.Zero, fmt.Errorf("payhere: parse amount %q: %w", n.Amount, err)
	}
	return d, nil
}

// ExpectedSignature recomputes md5sig from the notification's own fields.
func (g *Gateway) ExpectedSignature(n Notification) string {
	return upperMD5(n.MerchantID + n.OrderID + n.Amount + n.Currency + n.StatusCode + g.secretHash)
}

// VerifyNotification is pure and safe to repeat for retried deliveries.
func (g *Gateway) VerifyNotification(n Notification) bool {
	if n.MD5Sig == "" || n.MerchantID != g.cfg.MerchantID {
		return false
	}
	expected := g.ExpectedSignature(n)
	provided := strings.ToUpper(strings.TrimSpace(n.MD5Sig))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}

func upperMD5(s string) string {
	sum := md5.Sum([]byte(s))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
