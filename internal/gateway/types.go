package gateway

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/CheckoutService/internal/models"
	"github.com/shopspring/decimal"
)

type CustomerInput struct {
	Name              string `json:"name"`
	Email             string `json:"email"`
	CpfCnpj           string `json:"cpfCnpj"`
	MobilePhone       string `json:"mobilePhone,omitempty"`
	ExternalReference string `json:"externalReference,omitempty"`
}

type Customer struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	CpfCnpj     string `json:"cpfCnpj"`
	MobilePhone string `json:"mobilePhone"`
	PersonType  string `json:"personType"`
	Deleted     bool   `json:"deleted"`
}

// CardData is the raw card as typed by the buyer. It must never be logged or
// persisted; String and LogValue expose only the last four digits.
type CardData struct {
	HolderName  string `json:"holderName"`
	Number      string `json:"number"`
	ExpiryMonth string `json:"expiryMonth"`
	ExpiryYear  string `json:"expiryYear"`
	CCV         string `json:"ccv"`
}

func (c CardData) Last4() string {
	digits := models.OnlyDigits(c.Number)
	if len(digits) < 4 {
		return ""
	}
	return digits[len(digits)-4:]
}

func (c CardData) String() string {
	return fmt.Sprintf("card(****%s)", c.Last4())
}

func (c CardData) LogValue() slog.Value {
	return slog.GroupValue(slog.String("last4", c.Last4()))
}

type HolderInfo struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	CpfCnpj       string `json:"cpfCnpj"`
	PostalCode    string `json:"postalCode"`
	AddressNumber string `json:"addressNumber"`
	Phone         string `json:"phone"`

	// RemoteIP is the buyer's address, sent alongside the holder data.
	RemoteIP string `json:"-"`
}

type CardToken struct {
	Token string
	Last4 string
	Brand string
}

type tokenizeRequest struct {
	Customer             string     `json:"customer"`
	CreditCard           CardData   `json:"creditCard"`
	CreditCardHolderInfo HolderInfo `json:"creditCardHolderInfo"`
	RemoteIP             string     `json:"remoteIp,omitempty"`
}

type tokenizeResponse struct {
	CreditCardNumber string `json:"creditCardNumber"`
	CreditCardBrand  string `json:"creditCardBrand"`
	CreditCardToken  string `json:"creditCardToken"`
}

// CardChargeOptions carries the card-specific part of a charge.
type CardChargeOptions struct {
	Token            string
	InstallmentCount int
	InstallmentValue decimal.Decimal
	RemoteIP         string
}

type ChargeInput struct {
	Method models.PaymentMethod
	// CustomerID is ignored for PIX, which always uses the receiving customer.
	CustomerID        string
	Amount            decimal.Decimal
	DueDate           time.Time
	Description       string
	ExternalReference string
	Card              *CardChargeOptions
}

type chargeRequest struct {
	Customer          string  `json:"customer"`
	BillingType       string  `json:"billingType"`
	Value             float64 `json:"value"`
	DueDate           string  `json:"dueDate"`
	Description       string  `json:"description,omitempty"`
	ExternalReference string  `json:"externalReference,omitempty"`
	InstallmentCount  int     `json:"installmentCount,omitempty"`
	InstallmentValue  float64 `json:"installmentValue,omitempty"`
	CreditCardToken   string  `json:"creditCardToken,omitempty"`
	RemoteIP          string  `json:"remoteIp,omitempty"`
}

type chargeResponse struct {
	ID                string          `json:"id"`
	Customer          string          `json:"customer"`
	Status            string          `json:"status"`
	BillingType       string          `json:"billingType"`
	Value             decimal.Decimal `json:"value"`
	DueDate           string          `json:"dueDate"`
	InvoiceURL        string          `json:"invoiceUrl"`
	BankSlipURL       string          `json:"bankSlipUrl"`
	ExternalReference string          `json:"externalReference"`
	Deleted           bool            `json:"deleted"`
}

// Charge is the provider payment object. Status holds the parsed value;
// RawStatus keeps whatever the provider sent.
type Charge struct {
	ID                string
	CustomerID        string
	Status            models.TransactionStatus
	RawStatus         string
	Method            models.PaymentMethod
	Value             decimal.Decimal
	DueDate           string
	InvoiceURL        string
	BankSlipURL       string
	ExternalReference string
}

func (r chargeResponse) toCharge() *Charge {
	status, _ := models.ParseTransactionStatus(r.Status)
	return &Charge{
		ID:                r.ID,
		CustomerID:        r.Customer,
		Status:            status,
		RawStatus:         r.Status,
		Method:            models.PaymentMethod(r.BillingType),
		Value:             r.Value,
		DueDate:           r.DueDate,
		InvoiceURL:        r.InvoiceURL,
		BankSlipURL:       r.BankSlipURL,
		ExternalReference: r.ExternalReference,
	}
}

type PixQrCode struct {
	EncodedImage   string `json:"encodedImage"`
	Payload        string `json:"payload"`
	ExpirationDate string `json:"expirationDate"`
}

// IdentificationLine is the typeable boleto line. Available is false when the
// provider could not produce it.
type IdentificationLine struct {
	IdentificationField string `json:"identificationField"`
	NossoNumero         string `json:"nossoNumero"`
	BarCode             string `json:"barCode"`
	Available           bool   `json:"available"`
}

// IdentificationUnavailable is returned when the line cannot be fetched.
var IdentificationUnavailable = IdentificationLine{}
