package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baharkarakas/phonehealth-backend/internal/classifier"
	"github.com/baharkarakas/phonehealth-backend/internal/gateway"
	"github.com/baharkarakas/phonehealth-backend/internal/logger"
	"github.com/baharkarakas/phonehealth-backend/internal/models"
	"github.com/baharkarakas/phonehealth-backend/internal/validate"
)

func validFormData() map[string]any {
	return map[string]any{
		"brand":             "Samsung",
		"model":             "Galaxy S21",
		"os":                "Android 14",
		"deviceAge":         "2 years",
		"batteryCycleCount": 420,
		"batteryHealth":     "62",
		"fastCharging":      "yes",
		"chargesOvernight":  "no",
		"storageCapacity":   "128GB",
		"ramCapacity":       "8GB",
		"storageUsage":      "70",
		"ramUsage":          "60",
		"previousRepairs":   []any{"screen"},
		"overheating":       true,
		"screenTime":        "5",
		"chargeFrequency":   "daily",
		"chargeTime":        "night",
		"environment":       "indoor",
		"regionTemp":        "hot",
		"updatedSoftware":   "yes",
		"rooted":            "no",
		"primaryUse":        "gaming, social",
	}
}

type fixture struct {
	store *memStore
	gw    *MockGateway
	svc   *PaymentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	model, err := classifier.Load("")
	require.NoError(t, err)

	store := newMemStore()
	gw := &MockGateway{}
	log := logger.Discard()
	newID, err := NewTransactionIDGenerator(1)
	require.NoError(t, err)

	mat := NewMaterializer(memRecords{store}, model, log)
	svc := NewPaymentService(memTransactions{store}, memAudit{store}, gw, mat, PaymentOptions{
		Callbacks: gateway.CallbackURLs{Success: "http://api/payment/success"},
		Currency:  "BDT",
		NewID:     newID,
	}, log)
	return &fixture{store: store, gw: gw, svc: svc}
}

func (f *fixture) create(t *testing.T) string {
	t.Helper()
	res, err := f.svc.CreatePayment(context.Background(), CreatePaymentInput{
		Amount:        decimal.NewFromInt(500),
		CustomerEmail: "a@b.com",
		FormData:      validFormData(),
	})
	require.NoError(t, err)
	return res.TransactionID
}

func TestCreatePaymentPersistsPending(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.CreatePayment(context.Background(), CreatePaymentInput{
		Amount:        decimal.RequireFromString("500.00"),
		CustomerEmail: "a@b.com",
		ProductName:   "Health report",
		FormData:      validFormData(),
	})
	require.NoError(t, err)
	assert.Equal(t, "https://gw.test/session/"+res.TransactionID, res.SessionURL)
	assert.Equal(t, models.TxnPending, res.Transaction.Status)
	assert.Equal(t, 1, f.store.txCount())
	assert.Equal(t, res.TransactionID, f.gw.LastSession.TransactionID)
	assert.Equal(t, "http://api/payment/success", f.gw.LastSession.Callbacks.Success)

	tx, err := f.svc.Status(context.Background(), res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, "Samsung", tx.StagedFormData["brand"])
	assert.Nil(t, tx.GatewayReference)
}

func TestCreatePaymentIDsAreUnique(t *testing.T) {
	f := newFixture(t)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id := f.create(t)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Equal(t, 50, f.store.txCount())
}

func TestCreatePaymentGatewayFailuresPersistNothing(t *testing.T) {
	cases := map[string]error{
		"unreachable": &gateway.UnreachableError{Op: "create_session", Err: context.DeadlineExceeded},
		"rejected":    &gateway.RejectedError{Reason: "Store Credential Error"},
	}
	for name, gwErr := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.gw.CreateSessionFunc = func(context.Context, gateway.SessionRequest) (gateway.Session, error) {
				return gateway.Session{}, gwErr
			}
			_, err := f.svc.CreatePayment(context.Background(), CreatePaymentInput{Amount: decimal.NewFromInt(500)})
			require.Error(t, err)
			assert.True(t, errors.Is(err, gateway.ErrUnreachable) || errors.Is(err, gateway.ErrRejected))
			assert.Equal(t, 0, f.store.txCount())
		})
	}
}

func TestCreatePaymentValidatesInput(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreatePayment(context.Background(), CreatePaymentInput{Amount: decimal.Zero, CustomerEmail: "nope"})
	var errs validate.Errs
	require.ErrorAs(t, err, &errs)
	assert.Len(t, errs, 2)
	assert.Equal(t, 0, f.store.txCount())
}

func TestRedirectValidSucceedsAndMaterializes(t *testing.T) {
	f := newFixture(t)
	id := f.create(t)

	out, err := f.svc.HandleRedirect(context.Background(), id, "V1")
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, models.TxnSuccess, out.Transaction.Status)
	require.NotNil(t, out.Transaction.GatewayReference)
	assert.Equal(t, "BANK-V1", *out.Transaction.GatewayReference)
	require.NotNil(t, out.Record)
	assert.Equal(t, "a@b.com", out.Record.UserEmail, "falls back to the transaction email")
	require.NotNil(t, out.Record.MLPrediction)
	assert.Equal(t, "Warning", *out.Record.MLPrediction)

	tx, err := f.svc.Status(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, tx.LinkedRecordID)
	assert.Equal(t, out.Record.ID, *tx.LinkedRecordID)
	assert.Equal(t, 1, f.store.recordCount())
}

func TestRedirectInvalidFails(t *testing.T) {
	f := newFixture(t)
	id := f.create(t)
	f.gw.ValidateFunc = func(context.Context, string) (gateway.ValidationResult, error) {
		return gateway.ValidationResult{Valid: false, Status: "INVALID_TRANSACTION"}, nil
	}

	out, err := f.svc.HandleRedirect(context.Background(), id, "V1")
	require.NoError(t, err)
	assert.Equal(t, models.TxnFailed, out.Transaction.Status)
	assert.Nil(t, out.Record)
	assert.Equal(t, 0, f.store.recordCount())
}

func TestValidationMismatchIsInvalid(t *testing.T) {
	f := newFixture(t)
	id := f.create(t)
	f.gw.ValidateFunc = func(context.Context, string) (gateway.ValidationResult, error) {
		return gateway.ValidationResult{
			Valid:         true,
			Status:        "VALID",
			TransactionID: id,
			Amount:        decimal.NewNullDecimal(decimal.NewFromInt(5)),
		}, nil
	}

	out, err := f.svc.HandleRedirect(context.Background(), id, "V1")
	require.NoError(t, err)
	assert.Equal(t, models.TxnFailed, out.Transaction.Status)
}

func TestReplayAfterSuccessIsNoOp(t *testing.T) {
	f := newFixture(t)
	id := f.create(t)

	first, err := f.svc.HandleRedirect(context.Background(), id, "V1")
	require.NoError(t, err)

	// a later INVALID answer must not regress the terminal state
	f.gw.ValidateFunc = func(context.Context, string) (gateway.ValidationResult, error) {
		return gateway.ValidationResult{Valid: false, Status: "INVALID_TRANSACTION"}, nil
	}
	again, err := f.svc.HandleRedirect(context.Background(), id, "V1")
	require.NoError(t, err)
	assert.False(t, again.Applied)
	assert.Nil(t, again.Record)
	assert.Equal(t, models.TxnSuccess, again.Transaction.Status)
	assert.Equal(t, *first.Transaction.LinkedRecordID, *again.Transaction.LinkedRecordID)
	assert.Equal(t, 1, f.store.recordCount())
	assert.Equal(t, 1, f.gw.validateCalls(), "terminal transactions are not revalidated")
}

func TestUnknownTransaction(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.HandleRedirect(context.Background(), "TXN404", "V1")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
	_, ignored, err := f.svc.HandleIPN(context.Background(), "TXN404", "V1")
	assert.False(t, ignored)
	assert.ErrorIs(t, err, ErrTransactionNotFound)
	_, err = f.svc.Status(context.Background(), "TXN404")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
	_, err = f.svc.MarkCancelled(context.Background(), "TXN404")
	assert.ErrorIs(t, err, ErrTransactionNotFound)

	assert.Equal(t, 0, f.store.txCount())
	assert.Equal(t, 0, f.gw.validateCalls())
}

func TestIPNIgnoresIncompleteNotifications(t *testing.T) {
	f := newFixture(t)
	id := f.create(t)

	_, ignored, err := f.svc.HandleIPN(context.Background(), id, "")
	require.NoError(t, err)
	assert.True(t, ignored)
	_, ignored, err = f.svc.HandleIPN(context.Background(), "", "V1")
	require.NoError(t, err)
	assert.True(t, ignored)

	tx, err := f.svc.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.TxnPending, tx.Status)
}

func TestGatewayErrorLeavesPending(t *testing.T) {
	f := newFixture(t)
	id := f.create(t)
	f.gw.ValidateFunc = func(context.Context, string) (gateway.ValidationResult, error) {
		return gateway.ValidationResult{}, &gateway.MalformedError{Op: "validate", Body: "<html>", Err: errors.New("bad json")}
	}

	_, _, err := f.svc.HandleIPN(context.Background(), id, "V1")
	require.ErrorIs(t, err, gateway.ErrMalformedResponse)

	tx, err := f.svc.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.TxnPending, tx.Status)
}

func TestRedirectAndIPNConvergeOnce(t *testing.T) {
	f := newFixture(t)
	id := f.create(t)

	var wg sync.WaitGroup
	outcomes := make([]CallbackOutcome, 20)
	errs := make([]error, 20)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				outcomes[i], errs[i] = f.svc.HandleRedirect(context.Background(), id, "V1")
				return
			}
			outcomes[i], _, errs[i] = f.svc.HandleIPN(context.Background(), id, "V1")
		}(i)
	}
	wg.Wait()

	applied := 0
	for i := range outcomes {
		require.NoError(t, errs[i])
		assert.Equal(t, models.TxnSuccess, outcomes[i].Transaction.Status)
		if outcomes[i].Applied {
			applied++
		}
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, f.store.recordCount())
}

func TestInvalidStagedDataStillSucceeds(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.CreatePayment(context.Background(), CreatePaymentInput{
		Amount:        decimal.NewFromInt(500),
		CustomerEmail: "a@b.com",
		FormData:      map[string]any{"brand": "Nokia"},
	})
	require.NoError(t, err)

	out, err := f.svc.HandleRedirect(context.Background(), res.TransactionID, "V1")
	require.NoError(t, err)
	assert.Equal(t, models.TxnSuccess, out.Transaction.Status)
	assert.Nil(t, out.Record)
	assert.Nil(t, out.Transaction.LinkedRecordID)
	assert.Equal(t, 0, f.store.recordCount())
}

func TestLaterCallbackRetriesMissingRecord(t *testing.T) {
	f := newFixture(t)
	recs := &flakyRecords{memRecords: memRecords{f.store}}
	recs.failures.Store(1)
	f.svc.mat = NewMaterializer(recs, nil, logger.Discard())
	id := f.create(t)

	first, err := f.svc.HandleRedirect(context.Background(), id, "V1")
	require.NoError(t, err)
	assert.True(t, first.Applied)
	assert.Nil(t, first.Record)
	assert.Nil(t, first.Transaction.LinkedRecordID)
	assert.Equal(t, 0, f.store.recordCount())

	out, ignored, err := f.svc.HandleIPN(context.Background(), id, "V1")
	require.NoError(t, err)
	assert.False(t, ignored)
	assert.False(t, out.Applied)
	require.NotNil(t, out.Record)
	require.NotNil(t, out.Transaction.LinkedRecordID)
	assert.Equal(t, out.Record.ID, *out.Transaction.LinkedRecordID)

	tx, err := f.svc.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.TxnSuccess, tx.Status)
	require.NotNil(t, tx.LinkedRecordID)
	assert.Equal(t, 1, f.store.recordCount())
	assert.Equal(t, 1, f.gw.validateCalls(), "retry does not revalidate")

	again, err := f.svc.HandleRedirect(context.Background(), id, "V1")
	require.NoError(t, err)
	assert.Nil(t, again.Record)
	assert.Equal(t, *tx.LinkedRecordID, *again.Transaction.LinkedRecordID)
	assert.Equal(t, 1, f.store.recordCount())
}

func TestReplayWithInvalidStagedDataStaysQuiet(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.CreatePayment(context.Background(), CreatePaymentInput{
		Amount:        decimal.NewFromInt(500),
		CustomerEmail: "a@b.com",
		FormData:      map[string]any{"brand": "Nokia"},
	})
	require.NoError(t, err)
	_, err = f.svc.HandleRedirect(context.Background(), res.TransactionID, "V1")
	require.NoError(t, err)

	failures := func() int {
		f.store.mu.Lock()
		defer f.store.mu.Unlock()
		n := 0
		for _, a := range f.store.audits {
			if a.Action == "materialize_failed" {
				n++
			}
		}
		return n
	}
	require.Equal(t, 1, failures())

	out, _, err := f.svc.HandleIPN(context.Background(), res.TransactionID, "V1")
	require.NoError(t, err)
	assert.Equal(t, models.TxnSuccess, out.Transaction.Status)
	assert.Nil(t, out.Record)
	assert.Equal(t, 1, failures())
	assert.Equal(t, 0, f.store.recordCount())
	assert.Equal(t, 1, f.gw.validateCalls())
}

func TestFailAndCancelCallbacks(t *testing.T) {
	f := newFixture(t)
	failed, cancelled := f.create(t), f.create(t)

	out, err := f.svc.MarkFailed(context.Background(), failed)
	require.NoError(t, err)
	assert.Equal(t, models.TxnFailed, out.Transaction.Status)

	out, err = f.svc.MarkCancelled(context.Background(), cancelled)
	require.NoError(t, err)
	assert.Equal(t, models.TxnCancelled, out.Transaction.Status)

	// terminal states never regress
	out, err = f.svc.HandleRedirect(context.Background(), cancelled, "V1")
	require.NoError(t, err)
	assert.Equal(t, models.TxnCancelled, out.Transaction.Status)
	out, err = f.svc.MarkFailed(context.Background(), cancelled)
	require.NoError(t, err)
	assert.False(t, out.Applied)
	assert.Equal(t, models.TxnCancelled, out.Transaction.Status)
}

func TestMaterializerRejectsSecondLink(t *testing.T) {
	f := newFixture(t)
	id := f.create(t)
	_, err := f.svc.HandleRedirect(context.Background(), id, "V1")
	require.NoError(t, err)

	tx, err := f.svc.Status(context.Background(), id)
	require.NoError(t, err)
	_, err = f.svc.mat.Materialize(context.Background(), tx)
	assert.ErrorIs(t, err, ErrAlreadyMaterialized)

	// a stale copy without the link still loses at the store
	tx.LinkedRecordID = nil
	_, err = f.svc.mat.Materialize(context.Background(), tx)
	assert.ErrorIs(t, err, ErrAlreadyMaterialized)
	assert.Equal(t, 1, f.store.recordCount())
}

func TestListTransactions(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.create(t)
	}
	txs, err := f.svc.List(context.Background(), 2, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 2)
	txs, err = f.svc.List(context.Background(), 10, 2)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}
