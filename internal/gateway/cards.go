package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/honeynil/CheckoutService/internal/models"
	pkgerrors "github.com/honeynil/CheckoutService/pkg/errors"
)

// TokenizeCard exchanges raw card data for a reusable provider token. Card
// data is checked locally before it leaves the process.
func (c *Client) TokenizeCard(ctx context.Context, customerID string, card CardData, holder HolderInfo) (*CardToken, error) {
	if _, err := pathID("customer", customerID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(card.HolderName) == "" {
		return nil, pkgerrors.Card("card holder name is required", nil)
	}
	if !validCardNumber(card.Number) {
		return nil, pkgerrors.Card("invalid card number", nil)
	}
	if !validCCV(card.CCV) {
		return nil, pkgerrors.Card("invalid card security code", nil)
	}
	if !validExpiry(card.ExpiryMonth, card.ExpiryYear, time.Now()) {
		return nil, pkgerrors.Card("card is expired or has an invalid expiry date", nil)
	}

	card.Number = models.OnlyDigits(card.Number)
	holder.CpfCnpj = models.OnlyDigits(holder.CpfCnpj)
	holder.Phone = models.OnlyDigits(holder.Phone)
	holder.PostalCode = models.OnlyDigits(holder.PostalCode)

	req := tokenizeRequest{
		Customer:             customerID,
		CreditCard:           card,
		CreditCardHolderInfo: holder,
		RemoteIP:             holder.RemoteIP,
	}
	var out tokenizeResponse
	if err := c.do(ctx, "TokenizeCard", http.MethodPost, "/creditCard/tokenizeCreditCard", req, &out); err != nil {
		return nil, err
	}
	if out.CreditCardToken == "" {
		return nil, pkgerrors.Gateway("payment provider returned an empty card token", nil)
	}

	last4 := out.CreditCardNumber
	if len(last4) > 4 {
		last4 = last4[len(last4)-4:]
	}
	if last4 == "" {
		last4 = card.Last4()
	}
	slog.Info("card tokenized", "customer_id", customerID, "card", card, "brand", out.CreditCardBrand)
	return &CardToken{Token: out.CreditCardToken, Last4: last4, Brand: out.CreditCardBrand}, nil
}
