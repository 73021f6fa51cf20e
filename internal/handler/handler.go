package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/honeynil/CheckoutService/internal/gateway"
	"github.com/honeynil/CheckoutService/internal/infrastructure/auth"
	service "github.com/honeynil/CheckoutService/internal/services"
	pkgerrors "github.com/honeynil/CheckoutService/pkg/errors"
)

// WebhookTokenHeader carries the shared secret on provider callbacks.
const WebhookTokenHeader = "asaas-access-token"

const maxBodyBytes = 64 << 10

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	checkout     service.CheckoutService
	cards        service.CardService
	access       service.AccessService
	webhookToken string
	health       map[string]HealthCheck
}

func NewHandler(checkout service.CheckoutService, cards service.CardService, access service.AccessService, webhookToken string, health map[string]HealthCheck) *Handler {
	return &Handler{
		checkout:     checkout,
		cards:        cards,
		access:       access,
		webhookToken: webhookToken,
		health:       health,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pkgerrors.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrCard):
		status = http.StatusPaymentRequired
	case errors.Is(err, pkgerrors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrAuth), errors.Is(err, pkgerrors.ErrGateway):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: pkgerrors.UserMessage(err)})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	return dec.Decode(v)
}

func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/webhooks/gateway", h.GatewayWebhook).Methods(http.MethodPost)
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/customers/me", h.EnsureCustomer).Methods(http.MethodPut)
	r.HandleFunc("/checkout/session", h.Session).Methods(http.MethodGet)

	r.HandleFunc("/transactions/pending", h.PendingTransaction).Methods(http.MethodGet)
	r.HandleFunc("/transactions", h.EnsureTransaction).Methods(http.MethodPost)
	r.HandleFunc("/transactions/{id}", h.UpdateTransaction).Methods(http.MethodPatch)
	r.HandleFunc("/transactions/{id}/finalize", h.FinalizeTransaction).Methods(http.MethodPost)
	r.HandleFunc("/transactions/{id}/status", h.CheckStatus).Methods(http.MethodGet)

	r.HandleFunc("/cards", h.SaveCard).Methods(http.MethodPost)
	r.HandleFunc("/cards", h.ListCards).Methods(http.MethodGet)
	r.HandleFunc("/cards/{id}", h.DeleteCard).Methods(http.MethodDelete)

	r.HandleFunc("/payments/pix", h.PayWithPix).Methods(http.MethodPost)
	r.HandleFunc("/payments/boleto", h.PayWithBoleto).Methods(http.MethodPost)
	r.HandleFunc("/payments/card", h.PayWithCard).Methods(http.MethodPost)
	r.HandleFunc("/payments/pix/{transactionId}/polling", h.CancelPolling).Methods(http.MethodDelete)

	r.HandleFunc("/access", h.Access).Methods(http.MethodGet)
}

func currentUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "user not authenticated"})
		return uuid.Nil, false
	}
	return userID, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		badRequest(w, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) EnsureCustomer(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req service.CustomerProfile
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	user, err := h.checkout.EnsureCustomer(r.Context(), userID, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	sess, err := h.checkout.Session(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) PendingTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	tx, err := h.checkout.PendingTransaction(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if tx == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) EnsureTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req service.TransactionInput
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	tx, err := h.checkout.EnsureTransaction(r.Context(), userID, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	txID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req service.TransactionInput
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	tx, err := h.checkout.UpdateTransaction(r.Context(), userID, txID, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) FinalizeTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	txID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	result, err := h.checkout.FinalizeTransaction(r.Context(), userID, txID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) CheckStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	txID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	result, err := h.checkout.CheckStatus(r.Context(), userID, txID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type cardRequest struct {
	Card   gateway.CardData   `json:"card"`
	Holder gateway.HolderInfo `json:"holder"`
}

func (h *Handler) SaveCard(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req cardRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	req.Holder.RemoteIP = remoteIP(r)
	card, err := h.cards.SaveCard(r.Context(), userID, req.Card, req.Holder)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, card)
}

func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	cards, err := h.cards.ListCards(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

func (h *Handler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	cardID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.cards.DeleteCard(r.Context(), userID, cardID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type paymentRequest struct {
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
}

func (h *Handler) PayWithPix(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	payment, err := h.checkout.PayWithPix(r.Context(), userID, req.TransactionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

func (h *Handler) PayWithBoleto(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	payment, err := h.checkout.PayWithBoleto(r.Context(), userID, req.TransactionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

func (h *Handler) PayWithCard(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req service.CardPaymentInput
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	req.RemoteIP = remoteIP(r)
	req.Holder.RemoteIP = req.RemoteIP
	payment, err := h.checkout.PayWithCard(r.Context(), userID, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

func (h *Handler) CancelPolling(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	txID, ok := pathID(w, r, "transactionId")
	if !ok {
		return
	}
	if err := h.checkout.CancelPolling(r.Context(), userID, txID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Access(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	summary, err := h.access.Access(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type webhookEvent struct {
	Event   string `json:"event"`
	Payment struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"payment"`
}

// GatewayWebhook applies provider payment events. Everything that is not a
// malformed or unauthenticated request is acknowledged with 200 so the
// provider does not pause the queue.
func (h *Handler) GatewayWebhook(w http.ResponseWriter, r *http.Request) {
	if h.webhookToken == "" {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "webhook not configured"})
		return
	}
	got := r.Header.Get(WebhookTokenHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookToken)) != 1 {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid webhook token"})
		return
	}

	var event webhookEvent
	if err := decode(r, &event); err != nil || event.Payment.ID == "" {
		badRequest(w, "invalid event")
		return
	}
	slog.Info("gateway event received", "event", event.Event, "charge_id", event.Payment.ID, "status", event.Payment.Status)

	if _, err := h.checkout.ApplyChargeStatus(r.Context(), event.Payment.ID, event.Payment.Status); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(h.health))
	for name, check := range h.health {
		if err := check(r.Context()); err != nil {
			slog.Warn("health check failed", "dependency", name, "error", err)
			checks[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "up"
	}
	writeJSON(w, status, checks)
}

func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
