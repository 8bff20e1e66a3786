package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/personal-finance-ledger/internal/interfaces"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/models"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/storage/storetest"
)

func TestMemoryLedgerStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) interfaces.LedgerStore {
		return NewMemoryLedgerStore()
	})
}

func TestUnitsDoNotLoseUpdates(t *testing.T) {
	store := NewMemoryLedgerStore()
	ctx := context.Background()
	require.NoError(t, store.RunInTx(ctx, func(ctx context.Context, tx interfaces.LedgerTx) error {
		return tx.InsertAccount(ctx, models.Account{ID: "a1", UserID: "u1", Type: models.AccountTypeCurrent, IsDefault: true})
	}))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.RunInTx(ctx, func(ctx context.Context, tx interfaces.LedgerTx) error {
				return tx.AdjustBalance(ctx, "a1", decimal.NewFromInt(1))
			}))
		}()
	}
	wg.Wait()

	a, err := store.GetAccount(ctx, "a1", "u1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100).Equal(a.Balance))
}

func TestReadsReturnCopies(t *testing.T) {
	store := NewMemoryLedgerStore()
	ctx := context.Background()
	require.NoError(t, store.RunInTx(ctx, func(ctx context.Context, tx interfaces.LedgerTx) error {
		return tx.InsertAccount(ctx, models.Account{ID: "a1", UserID: "u1", Name: "Main", Type: models.AccountTypeCurrent})
	}))

	a, err := store.GetAccount(ctx, "a1", "u1")
	require.NoError(t, err)
	a.Name = "changed"

	again, err := store.GetAccount(ctx, "a1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "Main", again.Name)
}
