package service

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/CheckoutService/internal/fulfillment"
	"github.com/honeynil/CheckoutService/internal/gateway"
	"github.com/honeynil/CheckoutService/internal/models"
	"github.com/honeynil/CheckoutService/internal/repository"
	pkgerrors "github.com/honeynil/CheckoutService/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testCard = gateway.CardData{
	HolderName:  "ANA SOUZA",
	Number:      "4111 1111 1111 1111",
	ExpiryMonth: "12",
	ExpiryYear:  "2035",
	CCV:         "123",
}

func invalidCardErr() error {
	return pkgerrors.Card("card was declined, check the card data or use another card", &gateway.APIError{
		StatusCode: 400,
		Details:    []gateway.ErrorDetail{{Code: gateway.CodeInvalidCreditCard, RawCode: "invalid_creditCard"}},
	})
}

func chargeUsingToken(token string) interface{} {
	return mock.MatchedBy(func(in gateway.ChargeInput) bool {
		return in.Method == models.MethodCreditCard && in.Card != nil && in.Card.Token == token
	})
}

func grantFor(tx *models.Transaction) *repository.FinalizeResult {
	paid := *tx
	paid.Status = models.StatusConfirmed
	return &repository.FinalizeResult{
		Transaction: &paid,
		Purchase: &models.Purchase{
			ID:            uuid.New(),
			UserID:        tx.UserID,
			ProductID:     tx.ProductID,
			TransactionID: tx.ID,
			Status:        models.AccessActive,
			StartDate:     time.Now(),
			EndDate:       time.Now().Add(365 * 24 * time.Hour),
		},
	}
}

// expectCheckoutStart wires the lookups every payment starts with: the buyer,
// the pending transaction and a live gateway customer.
func (h *harness) expectCheckoutStart(userID uuid.UUID, tx *models.Transaction) {
	h.users.On("GetByID", mock.Anything, userID).Return(testUser(userID, "cus_1"), nil).Once()
	h.txs.On("GetPendingForUser", mock.Anything, userID).Return(tx, nil).Once()
	h.gw.On("GetCustomer", mock.Anything, "cus_1").Return(&gateway.Customer{ID: "cus_1"}, nil).Once()
}

func TestPayWithBoleto_BelowMinimumNeverReachesGateway(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	tx := pendingTx(userID, models.MethodBoleto, "4.99")

	h.users.On("GetByID", mock.Anything, userID).Return(testUser(userID, "cus_1"), nil).Once()
	h.txs.On("GetPendingForUser", mock.Anything, userID).Return(tx, nil).Once()

	res, err := h.svc.PayWithBoleto(context.Background(), userID, nil)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, pkgerrors.ErrValidation)
	assert.Contains(t, pkgerrors.UserMessage(err), "5.00")
	h.gw.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything)
	h.assertExpectations(t)
}

func TestPayWithBoleto_Success(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	tx := pendingTx(userID, models.MethodPix, "97.00")
	line := gateway.IdentificationLine{IdentificationField: "23790.00000 00000.000000", Available: true}

	h.expectCheckoutStart(userID, tx)
	h.txs.On("Update", mock.Anything, tx.ID, mock.MatchedBy(func(u models.TransactionUpdate) bool {
		return u.PaymentMethod != nil && *u.PaymentMethod == models.MethodBoleto
	})).Return(nil).Once()
	h.gw.On("CreateCharge", mock.Anything, mock.MatchedBy(func(in gateway.ChargeInput) bool {
		return in.Method == models.MethodBoleto && in.CustomerID == "cus_1" && in.ExternalReference == tx.ID.String()
	})).Return(&gateway.Charge{ID: "pay_b", Status: models.StatusPending, BankSlipURL: "https://slip", DueDate: "2026-10-21"}, nil).Once()
	h.txs.On("Update", mock.Anything, tx.ID, mock.MatchedBy(func(u models.TransactionUpdate) bool {
		return u.GatewayPaymentID != nil && *u.GatewayPaymentID == "pay_b"
	})).Return(nil).Once()
	h.gw.On("GetBoletoIdentificationLine", mock.Anything, "pay_b").Return(line).Once()

	res, err := h.svc.PayWithBoleto(context.Background(), userID, nil)
	require.NoError(t, err)
	assert.Equal(t, "pay_b", res.ChargeID)
	assert.Equal(t, "https://slip", res.BankSlipURL)
	assert.True(t, res.IdentificationLine.Available)
	assert.Equal(t, models.MethodBoleto, res.Transaction.PaymentMethod)

	// the status check reads the cached line instead of asking the gateway again
	h.txs.On("GetByID", mock.Anything, tx.ID).Return(tx, nil).Once()
	h.gw.On("GetChargeStatus", mock.Anything, "pay_b").Return(&gateway.Charge{ID: "pay_b", Status: models.StatusPending}, nil).Once()

	status, err := h.svc.CheckStatus(context.Background(), userID, tx.ID)
	require.NoError(t, err)
	require.NotNil(t, status.IdentificationLine)
	assert.Equal(t, line.IdentificationField, status.IdentificationLine.IdentificationField)
	h.gw.AssertNumberOfCalls(t, "GetBoletoIdentificationLine", 1)
	h.assertExpectations(t)
}

func TestPayWithPix_PollsUntilConfirmed(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	tx := pendingTx(userID, models.MethodPix, "97.00")
	polled := *tx
	polled.GatewayPaymentID = new(string)
	*polled.GatewayPaymentID = "pay_p"

	h.expectCheckoutStart(userID, tx)
	h.gw.On("CreateCharge", mock.Anything, mock.MatchedBy(func(in gateway.ChargeInput) bool {
		return in.Method == models.MethodPix
	})).Return(&gateway.Charge{ID: "pay_p", Status: models.StatusPending}, nil).Once()
	h.txs.On("Update", mock.Anything, tx.ID, mock.Anything).Return(nil).Once()
	h.gw.On("GetPixQrCode", mock.Anything, "pay_p").Return(&gateway.PixQrCode{Payload: "000201"}, nil).Once()

	var checks atomic.Int32
	h.gw.On("GetChargeStatus", mock.Anything, "pay_p").
		Run(func(mock.Arguments) { checks.Add(1) }).
		Return(&gateway.Charge{ID: "pay_p", Status: models.StatusPending}, nil).Times(3)
	h.gw.On("GetChargeStatus", mock.Anything, "pay_p").
		Run(func(mock.Arguments) { checks.Add(1) }).
		Return(&gateway.Charge{ID: "pay_p", Status: models.StatusConfirmed}, nil).Once()
	h.txs.On("GetByID", mock.Anything, tx.ID).Return(&polled, nil).Once()

	finalized := make(chan struct{})
	h.txs.On("Finalize", mock.Anything, tx.ID, models.StatusConfirmed, h.svc.cfg.GrantValidity).
		Run(func(mock.Arguments) { close(finalized) }).
		Return(grantFor(tx), nil).Once()

	res, err := h.svc.PayWithPix(context.Background(), userID, nil)
	require.NoError(t, err)
	assert.True(t, res.Polling)
	assert.Equal(t, "000201", res.QrCode.Payload)

	select {
	case <-finalized:
	case <-time.After(2 * time.Second):
		t.Fatal("transaction was not finalized")
	}
	require.Eventually(t, func() bool {
		_, running := h.svc.pollers.Get(tx.ID)
		return !running
	}, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 4, checks.Load())

	select {
	case msg := <-h.producer.sent:
		assert.Equal(t, userID.String(), msg.key)
		var event fulfillment.AccessGranted
		require.NoError(t, json.Unmarshal(msg.value, &event))
		assert.Equal(t, tx.ID, event.TransactionID)
		assert.Equal(t, "ana@example.com", event.Email)
		assert.Equal(t, "Ana Souza", event.Name)
	case <-time.After(time.Second):
		t.Fatal("access event was not published")
	}
	h.assertExpectations(t)
}

func TestPayWithPix_StopsAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	tx := pendingTx(userID, models.MethodPix, "97.00")

	h.expectCheckoutStart(userID, tx)
	h.gw.On("CreateCharge", mock.Anything, mock.Anything).Return(&gateway.Charge{ID: "pay_p", Status: models.StatusPending}, nil).Once()
	h.txs.On("Update", mock.Anything, tx.ID, mock.Anything).Return(nil).Once()
	h.gw.On("GetPixQrCode", mock.Anything, "pay_p").Return(&gateway.PixQrCode{Payload: "000201"}, nil).Once()
	h.gw.On("GetChargeStatus", mock.Anything, "pay_p").Return(&gateway.Charge{ID: "pay_p", Status: models.StatusPending}, nil)

	_, err := h.svc.PayWithPix(context.Background(), userID, nil)
	require.NoError(t, err)

	poller, ok := h.svc.pollers.Get(tx.ID)
	require.True(t, ok)
	select {
	case <-poller.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("poller did not stop")
	}
	assert.Equal(t, PollExhausted, poller.State())
	assert.Equal(t, 20, poller.Attempts())
	h.gw.AssertNumberOfCalls(t, "GetChargeStatus", 20)
	h.txs.AssertNotCalled(t, "Finalize", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPayWithPix_CancelPolling(t *testing.T) {
	h := newHarness(t)
	h.svc.cfg.PollInterval = 50 * time.Millisecond
	userID := uuid.New()
	tx := pendingTx(userID, models.MethodPix, "97.00")

	h.expectCheckoutStart(userID, tx)
	h.gw.On("CreateCharge", mock.Anything, mock.Anything).Return(&gateway.Charge{ID: "pay_p", Status: models.StatusPending}, nil).Once()
	h.txs.On("Update", mock.Anything, tx.ID, mock.Anything).Return(nil).Once()
	h.gw.On("GetPixQrCode", mock.Anything, "pay_p").Return(&gateway.PixQrCode{}, nil).Once()
	h.gw.On("GetChargeStatus", mock.Anything, "pay_p").Return(&gateway.Charge{ID: "pay_p", Status: models.StatusPending}, nil)
	h.txs.On("GetByID", mock.Anything, tx.ID).Return(tx, nil)

	_, err := h.svc.PayWithPix(context.Background(), userID, nil)
	require.NoError(t, err)
	poller, ok := h.svc.pollers.Get(tx.ID)
	require.True(t, ok)

	require.NoError(t, h.svc.CancelPolling(context.Background(), userID, tx.ID))
	select {
	case <-poller.Done():
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
	assert.Equal(t, PollCancelled, poller.State())
	assert.Less(t, poller.Attempts(), 20)

	err = h.svc.CancelPolling(context.Background(), userID, tx.ID)
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}

func TestPayWithPix_QrCodeFailureStartsNoPoller(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	tx := pendingTx(userID, models.MethodPix, "97.00")
	down := pkgerrors.Gateway("payment provider unavailable, try again", assert.AnError)

	h.expectCheckoutStart(userID, tx)
	h.gw.On("CreateCharge", mock.Anything, mock.Anything).Return(&gateway.Charge{ID: "pay_p", Status: models.StatusPending}, nil).Once()
	h.txs.On("Update", mock.Anything, tx.ID, mock.Anything).Return(nil).Once()
	h.gw.On("GetPixQrCode", mock.Anything, "pay_p").Return(nil, down).Once()

	res, err := h.svc.PayWithPix(context.Background(), userID, nil)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, pkgerrors.ErrGateway)

	_, running := h.svc.pollers.Get(tx.ID)
	assert.False(t, running)
	h.gw.AssertNotCalled(t, "GetChargeStatus", mock.Anything, mock.Anything)
	h.assertExpectations(t)
}

func TestPayWithPix_ZeroAmount(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	tx := pendingTx(userID, models.MethodPix, "0.00")

	h.users.On("GetByID", mock.Anything, userID).Return(testUser(userID, "cus_1"), nil).Once()
	h.txs.On("GetPendingForUser", mock.Anything, userID).Return(tx, nil).Once()

	_, err := h.svc.PayWithPix(context.Background(), userID, nil)
	assert.ErrorIs(t, err, pkgerrors.ErrValidation)
	h.assertExpectations(t)
}

func TestPayWithCard_NewCardApproved(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	tx := pendingTx(userID, models.MethodCreditCard, "97.00")
	tx.Metadata.Installments = 3

	h.expectCheckoutStart(userID, tx)
	h.cards.On("FindByFingerprint", mock.Anything, userID, mock.AnythingOfType("string")).Return(nil, pkgerrors.ErrCardNotFound).Once()
	h.gw.On("TokenizeCard", mock.Anything, "cus_1", testCard, mock.Anything).Return(&gateway.CardToken{Token: "tok_1", Last4: "1111", Brand: "VISA"}, nil).Once()
	h.cards.On("Create", mock.Anything, mock.MatchedBy(func(c *models.Card) bool {
		return c.Token == "tok_1" && !c.Listable && c.Fingerprint != ""
	})).Return(nil).Once()
	h.gw.On("CreateCharge", mock.Anything, mock.MatchedBy(func(in gateway.ChargeInput) bool {
		return in.Card != nil && in.Card.Token == "tok_1" && in.Card.InstallmentCount == 3 &&
			in.Card.InstallmentValue.StringFixed(2) == "32.33" && in.Card.RemoteIP == "203.0.113.7"
	})).Return(&gateway.Charge{ID: "pay_c", Status: models.StatusConfirmed}, nil).Once()
	h.txs.On("Update", mock.Anything, tx.ID, mock.Anything).Return(nil).Once()
	h.txs.On("Finalize", mock.Anything, tx.ID, models.StatusConfirmed, h.svc.cfg.GrantValidity).Return(grantFor(tx), nil).Once()

	res, err := h.svc.PayWithCard(context.Background(), userID, CardPaymentInput{
		Card:         testCard,
		Installments: 3,
		RemoteIP:     "203.0.113.7",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, res.Status)
	require.NotNil(t, res.Grant)
	assert.Equal(t, tx.ID, res.Grant.TransactionID)
	h.assertExpectations(t)
}

func TestPayWithCard_StaleTokenRetriedOnce(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	tx := pendingTx(userID, models.MethodCreditCard, "97.00")
	saved := &models.Card{ID: uuid.New(), UserID: userID, GatewayCustomerID: "cus_deleted", Token: "tok_old", Last4: "1111", Listable: true}

	h.expectCheckoutStart(userID, tx)
	h.cards.On("FindByFingerprint", mock.Anything, userID, cardFingerprint(h.svc.cfg.FingerprintKey, testCard.Number)).Return(saved, nil).Once()
	h.gw.On("CreateCharge", mock.Anything, chargeUsingToken("tok_old")).Return(nil, invalidCardErr()).Once()
	h.gw.On("TokenizeCard", mock.Anything, "cus_1", testCard, mock.Anything).Return(&gateway.CardToken{Token: "tok_new", Last4: "1111", Brand: "VISA"}, nil).Once()
	h.cards.On("UpdateToken", mock.Anything, saved.ID, "cus_1", "tok_new", "1111", "VISA").Return(nil).Once()
	h.gw.On("CreateCharge", mock.Anything, chargeUsingToken("tok_new")).Return(&gateway.Charge{ID: "pay_c", Status: models.StatusConfirmed}, nil).Once()
	h.txs.On("Update", mock.Anything, tx.ID, mock.Anything).Return(nil).Once()
	h.txs.On("Finalize", mock.Anything, tx.ID, models.StatusConfirmed, h.svc.cfg.GrantValidity).Return(grantFor(tx), nil).Once()

	res, err := h.svc.PayWithCard(context.Background(), userID, CardPaymentInput{Card: testCard})
	require.NoError(t, err)
	assert.Equal(t, "pay_c", res.ChargeID)
	h.gw.AssertNumberOfCalls(t, "CreateCharge", 2)
	h.assertExpectations(t)
}

func TestPayWithCard_StaleTokenFailsTwice(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	tx := pendingTx(userID, models.MethodCreditCard, "97.00")
	saved := &models.Card{ID: uuid.New(), UserID: userID, Token: "tok_old", Last4: "1111", Listable: true}

	h.expectCheckoutStart(userID, tx)
	h.cards.On("FindByFingerprint", mock.Anything, userID, mock.AnythingOfType("string")).Return(saved, nil).Once()
	h.gw.On("CreateCharge", mock.Anything, chargeUsingToken("tok_old")).Return(nil, invalidCardErr()).Once()
	h.gw.On("TokenizeCard", mock.Anything, "cus_1", testCard, mock.Anything).Return(&gateway.CardToken{Token: "tok_new", Last4: "1111", Brand: "VISA"}, nil).Once()
	h.cards.On("UpdateToken", mock.Anything, saved.ID, "cus_1", "tok_new", "1111", "VISA").Return(nil).Once()
	h.gw.On("CreateCharge", mock.Anything, chargeUsingToken("tok_new")).Return(nil, invalidCardErr()).Once()

	res, err := h.svc.PayWithCard(context.Background(), userID, CardPaymentInput{Card: testCard})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, pkgerrors.ErrCard)
	h.gw.AssertNumberOfCalls(t, "CreateCharge", 2)
	h.gw.AssertNumberOfCalls(t, "TokenizeCard", 1)
	h.txs.AssertNotCalled(t, "Finalize", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	h.assertExpectations(t)
}

func TestPayWithCard_RetokenizeOutageIsNotACardError(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	tx := pendingTx(userID, models.MethodCreditCard, "97.00")
	saved := &models.Card{ID: uuid.New(), UserID: userID, Token: "tok_old", Last4: "1111", Listable: true}
	outage := pkgerrors.Gateway("payment provider unavailable, try again", &gateway.APIError{StatusCode: 503})

	h.expectCheckoutStart(userID, tx)
	h.cards.On("FindByFingerprint", mock.Anything, userID, mock.AnythingOfType("string")).Return(saved, nil).Once()
	h.gw.On("CreateCharge", mock.Anything, chargeUsingToken("tok_old")).Return(nil, invalidCardErr()).Once()
	h.gw.On("TokenizeCard", mock.Anything, "cus_1", testCard, mock.Anything).Return(nil, outage).Once()

	res, err := h.svc.PayWithCard(context.Background(), userID, CardPaymentInput{Card: testCard})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, pkgerrors.ErrGateway)
	assert.NotErrorIs(t, err, pkgerrors.ErrCard)
	h.cards.AssertNotCalled(t, "UpdateToken", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	h.gw.AssertNumberOfCalls(t, "CreateCharge", 1)
	h.assertExpectations(t)
}

func TestPayWithCard_DeclinedChargeClosesTransaction(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	tx := pendingTx(userID, models.MethodCreditCard, "97.00")

	h.expectCheckoutStart(userID, tx)
	h.cards.On("FindByFingerprint", mock.Anything, userID, mock.AnythingOfType("string")).Return(nil, pkgerrors.ErrCardNotFound).Once()
	h.gw.On("TokenizeCard", mock.Anything, "cus_1", testCard, mock.Anything).Return(&gateway.CardToken{Token: "tok_1", Last4: "1111"}, nil).Once()
	h.cards.On("Create", mock.Anything, mock.Anything).Return(nil).Once()
	h.gw.On("CreateCharge", mock.Anything, chargeUsingToken("tok_1")).Return(&gateway.Charge{ID: "pay_c", Status: models.StatusRefunded}, nil).Once()
	h.txs.On("Update", mock.Anything, tx.ID, mock.MatchedBy(func(u models.TransactionUpdate) bool {
		return u.GatewayPaymentID != nil
	})).Return(nil).Once()
	h.txs.On("Update", mock.Anything, tx.ID, mock.MatchedBy(func(u models.TransactionUpdate) bool {
		return u.Status != nil && *u.Status == models.StatusRefunded
	})).Return(nil).Once()

	_, err := h.svc.PayWithCard(context.Background(), userID, CardPaymentInput{Card: testCard})
	assert.ErrorIs(t, err, pkgerrors.ErrCard)
	h.assertExpectations(t)
}

func TestPayWithCard_InvalidInstallments(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.PayWithCard(context.Background(), uuid.New(), CardPaymentInput{Card: testCard, Installments: 13})
	assert.ErrorIs(t, err, pkgerrors.ErrValidation)
	h.assertExpectations(t)
}

func TestCardFingerprint(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	a := cardFingerprint(key, "4111 1111 1111 1111")
	b := cardFingerprint(key, "4111111111111111")
	assert.NotEmpty(t, a)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, cardFingerprint([]byte("fedcba9876543210fedcba9876543210"), "4111111111111111"))
	assert.Empty(t, cardFingerprint(key, "4111"))
}

func TestApplyChargeStatus(t *testing.T) {
	t.Run("UnknownStatusIgnored", func(t *testing.T) {
		h := newHarness(t)
		res, err := h.svc.ApplyChargeStatus(context.Background(), "pay_1", "AWAITING_RISK_ANALYSIS")
		assert.NoError(t, err)
		assert.Nil(t, res)
		h.assertExpectations(t)
	})

	t.Run("UnknownChargeIgnored", func(t *testing.T) {
		h := newHarness(t)
		h.txs.On("GetByGatewayPaymentID", mock.Anything, "pay_x").Return(nil, pkgerrors.ErrTransactionNotFound).Once()
		res, err := h.svc.ApplyChargeStatus(context.Background(), "pay_x", "CONFIRMED")
		assert.NoError(t, err)
		assert.Nil(t, res)
		h.assertExpectations(t)
	})

	t.Run("OverdueStored", func(t *testing.T) {
		h := newHarness(t)
		tx := pendingTx(uuid.New(), models.MethodBoleto, "97.00")
		h.txs.On("GetByGatewayPaymentID", mock.Anything, "pay_b").Return(tx, nil).Once()
		h.txs.On("Update", mock.Anything, tx.ID, mock.MatchedBy(func(u models.TransactionUpdate) bool {
			return u.Status != nil && *u.Status == models.StatusOverdue
		})).Return(nil).Once()

		res, err := h.svc.ApplyChargeStatus(context.Background(), "pay_b", "OVERDUE")
		require.NoError(t, err)
		assert.Equal(t, models.StatusOverdue, res.Transaction.Status)
		assert.Nil(t, res.Grant)
		h.assertExpectations(t)
	})

	t.Run("PaidTransactionNotDemoted", func(t *testing.T) {
		h := newHarness(t)
		tx := pendingTx(uuid.New(), models.MethodPix, "97.00")
		tx.Status = models.StatusConfirmed
		h.txs.On("GetByGatewayPaymentID", mock.Anything, "pay_p").Return(tx, nil).Once()

		res, err := h.svc.ApplyChargeStatus(context.Background(), "pay_p", "OVERDUE")
		require.NoError(t, err)
		assert.Equal(t, models.StatusConfirmed, res.Transaction.Status)
		assert.Nil(t, res.Grant)
		h.txs.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
		h.assertExpectations(t)
	})

	t.Run("RefundedNeverFinalizedAgain", func(t *testing.T) {
		h := newHarness(t)
		tx := pendingTx(uuid.New(), models.MethodPix, "97.00")
		tx.Status = models.StatusReceived
		h.txs.On("GetByGatewayPaymentID", mock.Anything, "pay_p").Return(tx, nil).Twice()
		h.txs.On("Update", mock.Anything, tx.ID, mock.MatchedBy(func(u models.TransactionUpdate) bool {
			return u.Status != nil && *u.Status == models.StatusRefunded
		})).Return(nil).Once()

		res, err := h.svc.ApplyChargeStatus(context.Background(), "pay_p", "REFUNDED")
		require.NoError(t, err)
		assert.Equal(t, models.StatusRefunded, res.Transaction.Status)

		res, err = h.svc.ApplyChargeStatus(context.Background(), "pay_p", "RECEIVED")
		require.NoError(t, err)
		assert.Equal(t, models.StatusRefunded, res.Transaction.Status)
		assert.Nil(t, res.Grant)
		h.txs.AssertNotCalled(t, "Finalize", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		select {
		case <-h.producer.sent:
			t.Fatal("access event published for a refunded order")
		case <-time.After(50 * time.Millisecond):
		}
		h.assertExpectations(t)
	})

	t.Run("OverdueStaysClosed", func(t *testing.T) {
		h := newHarness(t)
		tx := pendingTx(uuid.New(), models.MethodBoleto, "97.00")
		tx.Status = models.StatusOverdue
		h.txs.On("GetByGatewayPaymentID", mock.Anything, "pay_b").Return(tx, nil).Once()

		res, err := h.svc.ApplyChargeStatus(context.Background(), "pay_b", "CONFIRMED")
		require.NoError(t, err)
		assert.Equal(t, models.StatusOverdue, res.Transaction.Status)
		h.txs.AssertNotCalled(t, "Finalize", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		h.txs.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
		h.assertExpectations(t)
	})

	t.Run("ReceivedFinalizesOnce", func(t *testing.T) {
		h := newHarness(t)
		tx := pendingTx(uuid.New(), models.MethodBoleto, "97.00")
		done := grantFor(tx)
		done.Transaction.Status = models.StatusReceived
		again := *done
		again.AlreadyFinalized = true

		h.txs.On("GetByGatewayPaymentID", mock.Anything, "pay_b").Return(tx, nil).Twice()
		h.txs.On("Finalize", mock.Anything, tx.ID, models.StatusReceived, h.svc.cfg.GrantValidity).Return(done, nil).Once()
		h.txs.On("Finalize", mock.Anything, tx.ID, models.StatusReceived, h.svc.cfg.GrantValidity).Return(&again, nil).Once()

		res, err := h.svc.ApplyChargeStatus(context.Background(), "pay_b", "RECEIVED")
		require.NoError(t, err)
		require.NotNil(t, res.Grant)

		res, err = h.svc.ApplyChargeStatus(context.Background(), "pay_b", "RECEIVED")
		require.NoError(t, err)
		assert.Equal(t, done.Purchase.ID, res.Grant.ID)

		select {
		case <-h.producer.sent:
		case <-time.After(time.Second):
			t.Fatal("access event was not published")
		}
		select {
		case <-h.producer.sent:
			t.Fatal("access event published twice")
		case <-time.After(50 * time.Millisecond):
		}
		h.assertExpectations(t)
	})
}

func TestFinalizeTransaction_RequiresSuccess(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	tx := pendingTx(userID, models.MethodBoleto, "97.00")
	chargeID := "pay_b"
	tx.GatewayPaymentID = &chargeID

	h.txs.On("GetByID", mock.Anything, tx.ID).Return(tx, nil).Once()
	h.gw.On("GetChargeStatus", mock.Anything, chargeID).Return(&gateway.Charge{ID: chargeID, Status: models.StatusPending}, nil).Once()
	h.gw.On("GetBoletoIdentificationLine", mock.Anything, chargeID).Return(gateway.IdentificationUnavailable).Once()

	_, err := h.svc.FinalizeTransaction(context.Background(), userID, tx.ID)
	assert.ErrorIs(t, err, pkgerrors.ErrValidation)
	h.txs.AssertNotCalled(t, "Finalize", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	h.assertExpectations(t)
}
