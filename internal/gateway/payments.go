package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/honeynil/CheckoutService/internal/models"
	pkgerrors "github.com/honeynil/CheckoutService/pkg/errors"
	"github.com/shopspring/decimal"
)

const dueDateLayout = "2006-01-02"

// CreateCharge issues a payment. Amounts are rounded to two decimals and
// checked against the method floor before any network call.
func (c *Client) CreateCharge(ctx context.Context, in ChargeInput) (*Charge, error) {
	if !in.Method.IsValid() {
		return nil, pkgerrors.Validation("unsupported payment method")
	}

	value := in.Amount.Round(2)
	switch in.Method {
	case models.MethodPix:
		if !value.IsPositive() {
			return nil, pkgerrors.Validation("amount must be greater than zero")
		}
	default:
		if value.LessThan(MinimumAmount) {
			return nil, pkgerrors.Validation("amount must be at least " + MinimumAmount.StringFixed(2))
		}
	}

	customerID := in.CustomerID
	if in.Method == models.MethodPix {
		if c.pixCustomerID == "" {
			return nil, pkgerrors.Configuration("pix receiving customer is not configured")
		}
		customerID = c.pixCustomerID
	}
	if _, err := pathID("customer", customerID); err != nil {
		return nil, err
	}

	due := in.DueDate
	if due.IsZero() {
		due = time.Now()
	}
	req := chargeRequest{
		Customer:          customerID,
		BillingType:       string(in.Method),
		Value:             value.InexactFloat64(),
		DueDate:           due.Format(dueDateLayout),
		Description:       in.Description,
		ExternalReference: in.ExternalReference,
	}

	if in.Method == models.MethodCreditCard {
		if in.Card == nil || in.Card.Token == "" {
			return nil, pkgerrors.Card("card token is required", nil)
		}
		req.CreditCardToken = in.Card.Token
		req.RemoteIP = in.Card.RemoteIP
		if in.Card.InstallmentCount > 1 {
			req.InstallmentCount = in.Card.InstallmentCount
			req.InstallmentValue = in.Card.InstallmentValue.Round(2).InexactFloat64()
		}
	}

	var out chargeResponse
	if err := c.do(ctx, "CreateCharge", http.MethodPost, "/payments", req, &out); err != nil {
		return nil, err
	}
	slog.Info("charge created", "charge_id", out.ID, "method", in.Method, "status", out.Status)
	return out.toCharge(), nil
}

func (c *Client) GetChargeStatus(ctx context.Context, chargeID string) (*Charge, error) {
	id, err := pathID("charge", chargeID)
	if err != nil {
		return nil, err
	}
	var out chargeResponse
	if err := c.do(ctx, "GetChargeStatus", http.MethodGet, "/payments/"+id, nil, &out); err != nil {
		return nil, err
	}
	return out.toCharge(), nil
}

func (c *Client) GetPixQrCode(ctx context.Context, chargeID string) (*PixQrCode, error) {
	id, err := pathID("charge", chargeID)
	if err != nil {
		return nil, err
	}
	var out PixQrCode
	if err := c.do(ctx, "GetPixQrCode", http.MethodGet, "/payments/"+id+"/pixQrCode", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBoletoIdentificationLine never fails; any problem yields
// IdentificationUnavailable.
func (c *Client) GetBoletoIdentificationLine(ctx context.Context, chargeID string) IdentificationLine {
	id, err := pathID("charge", chargeID)
	if err != nil {
		return IdentificationUnavailable
	}
	var out IdentificationLine
	if err := c.do(ctx, "GetBoletoIdentificationLine", http.MethodGet, "/payments/"+id+"/identificationField", nil, &out); err != nil {
		slog.Warn("boleto identification line unavailable", "charge_id", chargeID, "error", err)
		return IdentificationUnavailable
	}
	if out.IdentificationField == "" {
		return IdentificationUnavailable
	}
	out.Available = true
	return out
}

// SplitInstallments returns the per-installment value for amount split into n parts.
func SplitInstallments(amount decimal.Decimal, n int) decimal.Decimal {
	if n <= 1 {
		return amount.Round(2)
	}
	return amount.DivRound(decimal.NewFromInt(int64(n)), 2)
}
