package services

import (
	"context"
	"sort"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/baharkarakas/phonehealth-backend/internal/gateway"
	"github.com/baharkarakas/phonehealth-backend/internal/models"
	repo "github.com/baharkarakas/phonehealth-backend/internal/repository"
)

// memStore backs the transaction, record and audit fakes with one mutex so
// CreateLinked can be atomic across "tables", like the postgres version.
type memStore struct {
	mu      sync.Mutex
	txs     map[string]models.Transaction
	records map[string]models.DeviceRecord
	audits  []models.AuditLog
}

func newMemStore() *memStore {
	return &memStore{
		txs:     map[string]models.Transaction{},
		records: map[string]models.DeviceRecord{},
	}
}

type memTransactions struct{ s *memStore }

func (r memTransactions) Create(_ context.Context, tx models.Transaction) (models.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now()
	tx.CreatedAt, tx.UpdatedAt = now, now
	r.s.txs[tx.ID] = tx
	return tx, nil
}

func (r memTransactions) GetByID(_ context.Context, id string) (models.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tx, ok := r.s.txs[id]
	if !ok {
		return models.Transaction{}, repo.ErrNotFound
	}
	return tx, nil
}

func (r memTransactions) List(_ context.Context, limit, offset int) ([]models.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]models.Transaction, 0, len(r.s.txs))
	for _, tx := range r.s.txs {
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r memTransactions) Transition(_ context.Context, id string, to models.TransactionStatus, ref *string) (models.Transaction, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tx, ok := r.s.txs[id]
	if !ok {
		return models.Transaction{}, false, repo.ErrNotFound
	}
	if tx.Status != models.TxnPending {
		return tx, false, nil
	}
	tx.Status = to
	if ref != nil {
		tx.GatewayReference = ref
	}
	tx.UpdatedAt = time.Now()
	r.s.txs[id] = tx
	return tx, true, nil
}

type memRecords struct{ s *memStore }

func (r memRecords) insert(rec models.DeviceRecord) models.DeviceRecord {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = time.Now()
	r.s.records[rec.ID] = rec
	return rec
}

func (r memRecords) Create(_ context.Context, rec models.DeviceRecord) (models.DeviceRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.insert(rec), nil
}

func (r memRecords) GetByID(_ context.Context, id string) (models.DeviceRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.records[id]
	if !ok {
		return models.DeviceRecord{}, repo.ErrNotFound
	}
	return rec, nil
}

func (r memRecords) ListByEmail(_ context.Context, email string) ([]models.DeviceRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []models.DeviceRecord{}
	for _, rec := range r.s.records {
		if email == "" || rec.UserEmail == email {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r memRecords) CreateLinked(_ context.Context, txID string, rec models.DeviceRecord) (models.DeviceRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tx, ok := r.s.txs[txID]
	if !ok {
		return models.DeviceRecord{}, repo.ErrNotFound
	}
	if tx.LinkedRecordID != nil {
		return models.DeviceRecord{}, repo.ErrAlreadyLinked
	}
	created := r.insert(rec)
	tx.LinkedRecordID = &created.ID
	r.s.txs[txID] = tx
	return created, nil
}

// flakyRecords fails CreateLinked for the first `failures` calls.
type flakyRecords struct {
	memRecords
	failures atomic.Int32
}

func (r *flakyRecords) CreateLinked(ctx context.Context, txID string, rec models.DeviceRecord) (models.DeviceRecord, error) {
	if r.failures.Add(-1) >= 0 {
		return models.DeviceRecord{}, errors.New("connection reset by peer")
	}
	return r.memRecords.CreateLinked(ctx, txID, rec)
}

func (r *memStore) recordCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func (r *memStore) txCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.txs)
}

type memAudit struct{ s *memStore }

func (r memAudit) Create(_ context.Context, l models.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.audits = append(r.s.audits, l)
	return nil
}

// MockGateway implements PaymentGateway for testing
type MockGateway struct {
	mu                sync.Mutex
	CreateSessionFunc func(ctx context.Context, req gateway.SessionRequest) (gateway.Session, error)
	ValidateFunc      func(ctx context.Context, reference string) (gateway.ValidationResult, error)
	ValidateCalls     int
	LastSession       gateway.SessionRequest
}

func (m *MockGateway) CreateSession(ctx context.Context, req gateway.SessionRequest) (gateway.Session, error) {
	m.mu.Lock()
	m.LastSession = req
	m.mu.Unlock()
	if m.CreateSessionFunc != nil {
		return m.CreateSessionFunc(ctx, req)
	}
	return gateway.Session{URL: "https://gw.test/session/" + req.TransactionID, SessionKey: "SK"}, nil
}

func (m *MockGateway) Validate(ctx context.Context, reference string) (gateway.ValidationResult, error) {
	m.mu.Lock()
	m.ValidateCalls++
	m.mu.Unlock()
	if m.ValidateFunc != nil {
		return m.ValidateFunc(ctx, reference)
	}
	return gateway.ValidationResult{Valid: true, Status: "VALID", ProviderTransactionRef: "BANK-" + reference}, nil
}

func (m *MockGateway) validateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ValidateCalls
}
