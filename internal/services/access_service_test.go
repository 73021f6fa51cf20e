package service

import (
	"context"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/honeynil/CheckoutService/internal/models"
	repositorymocks "github.com/honeynil/CheckoutService/internal/repository/mocks"
	pkgerrors "github.com/honeynil/CheckoutService/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testValidity = 365 * 24 * time.Hour

func TestAccessService_Access(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	purchaseRepo := repositorymocks.NewMockPurchaseRepository(ctrl)
	transactionRepo := repositorymocks.NewMockTransactionRepository(ctrl)
	service := NewAccessService(purchaseRepo, transactionRepo, "course", testValidity)
	ctx := context.Background()
	userID := uuid.New()

	t.Run("active grant", func(t *testing.T) {
		active := &models.Purchase{ID: uuid.New(), UserID: userID, Status: models.AccessActive}

		purchaseRepo.EXPECT().GetActive(gomock.Any(), userID, "course").Return(active, nil)
		purchaseRepo.EXPECT().ListByUser(gomock.Any(), userID).Return([]models.Purchase{*active}, nil)

		summary, err := service.Access(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, active.ID, summary.Active.ID)
		assert.Len(t, summary.History, 1)
	})

	t.Run("no grant yet", func(t *testing.T) {
		purchaseRepo.EXPECT().GetActive(gomock.Any(), userID, "course").Return(nil, pkgerrors.ErrPurchaseNotFound)
		purchaseRepo.EXPECT().ListByUser(gomock.Any(), userID).Return(nil, nil)

		summary, err := service.Access(ctx, userID)
		require.NoError(t, err)
		assert.Nil(t, summary.Active)
		assert.NotNil(t, summary.History)
		assert.Empty(t, summary.History)
	})

	t.Run("store failure", func(t *testing.T) {
		purchaseRepo.EXPECT().GetActive(gomock.Any(), userID, "course").Return(nil, assert.AnError)

		_, err := service.Access(ctx, userID)
		assert.ErrorIs(t, err, pkgerrors.ErrPersistence)
	})
}

func TestAccessService_GrantForTransaction(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	purchaseRepo := repositorymocks.NewMockPurchaseRepository(ctrl)
	transactionRepo := repositorymocks.NewMockTransactionRepository(ctrl)
	service := NewAccessService(purchaseRepo, transactionRepo, "course", testValidity)
	ctx := context.Background()

	t.Run("paid transaction", func(t *testing.T) {
		tx := pendingTx(uuid.New(), models.MethodPix, "97.00")
		tx.Status = models.StatusReceived
		grant := &models.Purchase{ID: uuid.New(), TransactionID: tx.ID, EndDate: time.Now().Add(testValidity)}

		transactionRepo.EXPECT().GetByID(gomock.Any(), tx.ID).Return(tx, nil)
		purchaseRepo.EXPECT().CreateOrExtend(gomock.Any(), tx.UserID, "course", tx.ID, testValidity).Return(grant, nil)

		got, err := service.GrantForTransaction(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, grant.ID, got.ID)
	})

	t.Run("unpaid transaction", func(t *testing.T) {
		tx := pendingTx(uuid.New(), models.MethodPix, "97.00")

		transactionRepo.EXPECT().GetByID(gomock.Any(), tx.ID).Return(tx, nil)
		purchaseRepo.EXPECT().CreateOrExtend(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		_, err := service.GrantForTransaction(ctx, tx.ID)
		assert.ErrorIs(t, err, pkgerrors.ErrValidation)
	})

	t.Run("refunded transaction", func(t *testing.T) {
		tx := pendingTx(uuid.New(), models.MethodCreditCard, "97.00")
		tx.Status = models.StatusRefunded

		transactionRepo.EXPECT().GetByID(gomock.Any(), tx.ID).Return(tx, nil)

		_, err := service.GrantForTransaction(ctx, tx.ID)
		assert.ErrorIs(t, err, pkgerrors.ErrValidation)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		id := uuid.New()
		transactionRepo.EXPECT().GetByID(gomock.Any(), id).Return(nil, pkgerrors.ErrTransactionNotFound)

		_, err := service.GrantForTransaction(ctx, id)
		assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
	})
}
