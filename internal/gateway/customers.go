package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/honeynil/CheckoutService/internal/models"
	pkgerrors "github.com/honeynil/CheckoutService/pkg/errors"
)

func (c *Client) CreateCustomer(ctx context.Context, in CustomerInput) (*Customer, error) {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return nil, pkgerrors.Validation("name is required")
	case strings.TrimSpace(in.Email) == "":
		return nil, pkgerrors.Validation("email is required")
	case models.OnlyDigits(in.CpfCnpj) == "":
		return nil, pkgerrors.Validation("cpf or cnpj is required")
	}
	in.CpfCnpj = models.OnlyDigits(in.CpfCnpj)
	in.MobilePhone = models.OnlyDigits(in.MobilePhone)

	var out Customer
	if err := c.do(ctx, "CreateCustomer", http.MethodPost, "/customers", in, &out); err != nil {
		return nil, err
	}
	slog.Info("gateway customer created", "customer_id", out.ID)
	return &out, nil
}

// GetCustomer returns nil, nil when the provider does not know the id.
// Deleted customers are returned with Deleted set.
func (c *Client) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	id, err := pathID("customer", id)
	if err != nil {
		return nil, err
	}

	var out Customer
	if err := c.do(ctx, "GetCustomer", http.MethodGet, "/customers/"+id, nil, &out); err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

// UpdateCustomer reads the customer first and refuses to write to a missing
// or deleted one.
func (c *Client) UpdateCustomer(ctx context.Context, id string, in CustomerInput) (*Customer, error) {
	existing, err := c.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil || existing.Deleted {
		return nil, pkgerrors.NotFound("customer not found at payment provider", nil)
	}
	in.CpfCnpj = models.OnlyDigits(in.CpfCnpj)
	in.MobilePhone = models.OnlyDigits(in.MobilePhone)

	var out Customer
	if err := c.do(ctx, "UpdateCustomer", http.MethodPut, "/customers/"+existing.ID, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteCustomer(ctx context.Context, id string) error {
	id, err := pathID("customer", id)
	if err != nil {
		return err
	}
	var out struct {
		Deleted bool   `json:"deleted"`
		ID      string `json:"id"`
	}
	if err := c.do(ctx, "DeleteCustomer", http.MethodDelete, "/customers/"+id, nil, &out); err != nil {
		return err
	}
	slog.Info("gateway customer deleted", "customer_id", id, "deleted", out.Deleted)
	return nil
}
