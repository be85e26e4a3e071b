package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"pool-api/internal/models"
	"pool-api/internal/repository"
)

// In-memory repository doubles. Reads hand out copies so engine-side
// mutations only become visible through Update, matching the decode
// semantics of the real driver.

type memPoolRepo struct {
	pool *models.PoolAccount
}

func newMemPoolRepo(total decimal.Decimal) *memPoolRepo {
	pool := models.NewPoolAccount(total, "NGN", "acct_test")
	pool.ID = "pool_account"
	return &memPoolRepo{pool: pool}
}

func (r *memPoolRepo) EnsureInitialized(ctx context.Context, currency, gatewayAccountID string, initialBalance decimal.Decimal) (*models.PoolAccount, error) {
	return r.Get(ctx)
}

func (r *memPoolRepo) Get(ctx context.Context) (*models.PoolAccount, error) {
	if r.pool == nil {
		return nil, models.ErrPoolNotInitialized
	}
	copied := *r.pool
	return &copied, nil
}

func (r *memPoolRepo) Update(ctx context.Context, pool *models.PoolAccount) error {
	copied := *pool
	copied.Version++
	r.pool = &copied
	pool.Version++
	return nil
}

func (r *memPoolRepo) UpdateSyncTime(ctx context.Context, syncedAt time.Time) error {
	if r.pool == nil {
		return models.ErrPoolNotInitialized
	}
	r.pool.LastSyncedAt = syncedAt
	return nil
}

type memBalanceRepo struct {
	balances map[int64]*models.UserBalance
}

func newMemBalanceRepo() *memBalanceRepo {
	return &memBalanceRepo{balances: make(map[int64]*models.UserBalance)}
}

func (r *memBalanceRepo) GetByUserID(ctx context.Context, userID int64) (*models.UserBalance, error) {
	balance, ok := r.balances[userID]
	if !ok {
		return nil, models.ErrBalanceNotFound
	}
	copied := *balance
	return &copied, nil
}

func (r *memBalanceRepo) GetOrCreate(ctx context.Context, userID int64, currency string) (*models.UserBalance, error) {
	if balance, err := r.GetByUserID(ctx, userID); err == nil {
		return balance, nil
	}
	fresh := models.NewUserBalance(userID, currency)
	fresh.ID = primitive.NewObjectID()
	stored := *fresh
	r.balances[userID] = &stored
	return fresh, nil
}

func (r *memBalanceRepo) Update(ctx context.Context, balance *models.UserBalance) error {
	if _, ok := r.balances[balance.UserID]; !ok {
		return models.ErrBalanceNotFound
	}
	copied := *balance
	r.balances[balance.UserID] = &copied
	return nil
}

func (r *memBalanceRepo) List(ctx context.Context, limit, offset int) ([]*models.UserBalance, error) {
	ids := make([]int64, 0, len(r.balances))
	for id := range r.balances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []*models.UserBalance
	for i := offset; i < len(ids) && len(out) < limit; i++ {
		copied := *r.balances[ids[i]]
		out = append(out, &copied)
	}
	return out, nil
}

func (r *memBalanceRepo) CreateIndexes(ctx context.Context) error { return nil }

type memLedgerRepo struct {
	entries []*models.LedgerEntry
}

func newMemLedgerRepo() *memLedgerRepo { return &memLedgerRepo{} }

func (r *memLedgerRepo) Insert(ctx context.Context, entry *models.LedgerEntry) error {
	entry.ID = primitive.NewObjectID()
	copied := *entry
	r.entries = append(r.entries, &copied)
	return nil
}

func (r *memLedgerRepo) ListByUser(ctx context.Context, query repository.LedgerQuery) ([]*models.LedgerEntry, error) {
	var out []*models.LedgerEntry
	for _, entry := range r.entries {
		if entry.UserID != query.UserID {
			continue
		}
		if !query.Start.IsZero() && entry.Timestamp.Before(query.Start) {
			continue
		}
		if !query.End.IsZero() && entry.Timestamp.After(query.End) {
			continue
		}
		copied := *entry
		out = append(out, &copied)
	}
	return out, nil
}

func (r *memLedgerRepo) CountByUser(ctx context.Context, userID int64) (int64, error) {
	count := int64(0)
	for _, entry := range r.entries {
		if entry.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (r *memLedgerRepo) CreateIndexes(ctx context.Context) error { return nil }

func (r *memLedgerRepo) byUser(userID int64) []*models.LedgerEntry {
	out, _ := r.ListByUser(context.Background(), repository.LedgerQuery{UserID: userID})
	return out
}

type memTransactionRepo struct {
	transactions map[string]*models.Transaction
}

func newMemTransactionRepo() *memTransactionRepo {
	return &memTransactionRepo{transactions: make(map[string]*models.Transaction)}
}

func (r *memTransactionRepo) Create(ctx context.Context, tx *models.Transaction) error {
	tx.ID = primitive.NewObjectID()
	copied := *tx
	r.transactions[tx.TransactionID] = &copied
	return nil
}

func (r *memTransactionRepo) GetByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error) {
	tx, ok := r.transactions[transactionID]
	if !ok {
		return nil, models.ErrTransactionNotFound
	}
	copied := *tx
	return &copied, nil
}

func (r *memTransactionRepo) Update(ctx context.Context, tx *models.Transaction) error {
	if _, ok := r.transactions[tx.TransactionID]; !ok {
		return models.ErrTransactionNotFound
	}
	copied := *tx
	r.transactions[tx.TransactionID] = &copied
	return nil
}

func (r *memTransactionRepo) ListByUser(ctx context.Context, query repository.TransactionQuery) ([]*models.Transaction, error) {
	var out []*models.Transaction
	for _, tx := range r.transactions {
		if tx.UserID != query.UserID {
			continue
		}
		if query.Type != "" && tx.Type != query.Type {
			continue
		}
		if query.Status != "" && tx.Status != query.Status {
			continue
		}
		copied := *tx
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memTransactionRepo) GetRefundsOf(ctx context.Context, parentTransactionID string) ([]*models.Transaction, error) {
	var out []*models.Transaction
	for _, tx := range r.transactions {
		if tx.Type == models.TypeRefund && tx.ParentTransactionID == parentTransactionID {
			copied := *tx
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memTransactionRepo) CountByStatus(ctx context.Context, status models.TransactionStatus) (int64, error) {
	count := int64(0)
	for _, tx := range r.transactions {
		if tx.Status == status {
			count++
		}
	}
	return count, nil
}

func (r *memTransactionRepo) CreateIndexes(ctx context.Context) error { return nil }

type memLockRepo struct {
	held map[string]string
}

func newMemLockRepo() *memLockRepo { return &memLockRepo{held: make(map[string]string)} }

func (r *memLockRepo) AcquireLock(ctx context.Context, key string, ttl time.Duration) (*repository.DistributedLock, error) {
	if _, ok := r.held[key]; ok {
		return nil, fmt.Errorf("lock already held for key: %s", key)
	}
	r.held[key] = key
	return &repository.DistributedLock{Key: key, Value: key, TTL: ttl, AcquiredAt: time.Now()}, nil
}

func (r *memLockRepo) ReleaseLock(ctx context.Context, lock *repository.DistributedLock) error {
	delete(r.held, lock.Key)
	return nil
}

func (r *memLockRepo) ExtendLock(ctx context.Context, lock *repository.DistributedLock, ttl time.Duration) error {
	return nil
}

func (r *memLockRepo) IsLocked(ctx context.Context, key string) (bool, error) {
	_, ok := r.held[key]
	return ok, nil
}

type memIdempotencyRepo struct {
	responses map[string][]byte
}

func newMemIdempotencyRepo() *memIdempotencyRepo {
	return &memIdempotencyRepo{responses: make(map[string][]byte)}
}

func (r *memIdempotencyRepo) SetResponse(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	r.responses[key] = response
	return nil
}

func (r *memIdempotencyRepo) GetResponse(ctx context.Context, key string) ([]byte, bool, error) {
	data, ok := r.responses[key]
	return data, ok, nil
}

func (r *memIdempotencyRepo) Delete(ctx context.Context, key string) error {
	delete(r.responses, key)
	return nil
}

// passthroughTxRunner runs the unit of work without a session. The fakes
// commit on Update, so atomicity is not exercised here, only semantics.
type passthroughTxRunner struct{}

func (passthroughTxRunner) WithTransaction(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// harness bundles the doubles every engine test needs.
type harness struct {
	poolRepo    *memPoolRepo
	balanceRepo *memBalanceRepo
	ledgerRepo  *memLedgerRepo
	txRepo      *memTransactionRepo
	lockRepo    *memLockRepo
	idemRepo    *memIdempotencyRepo
	txRunner    passthroughTxRunner
}

func newHarness(poolTotal decimal.Decimal) *harness {
	return &harness{
		poolRepo:    newMemPoolRepo(poolTotal),
		balanceRepo: newMemBalanceRepo(),
		ledgerRepo:  newMemLedgerRepo(),
		txRepo:      newMemTransactionRepo(),
		lockRepo:    newMemLockRepo(),
		idemRepo:    newMemIdempotencyRepo(),
	}
}

func (h *harness) poolEngine() PoolEngine {
	return NewPoolEngine(h.poolRepo, h.balanceRepo, h.ledgerRepo, h.txRunner, PoolEngineConfig{
		Currency:            "NGN",
		WarningUnallocated:  decimal.NewFromInt(5000),
		WarningAllocatedPct: decimal.NewFromInt(90),
		AlertThreshold:      decimal.NewFromInt(1000),
		Tolerance:           decimal.NewFromFloat(0.01),
	})
}

func (h *harness) balanceEngine() BalanceEngine {
	return NewBalanceEngine(h.poolRepo, h.balanceRepo, h.ledgerRepo, h.txRunner)
}

func (h *harness) transactionEngine() TransactionEngine {
	return NewTransactionEngine(
		h.poolRepo, h.balanceRepo, h.ledgerRepo, h.txRepo,
		h.txRunner, repository.NewPoolLockManager(h.lockRepo),
		NewIdempotencyManager(h.idemRepo, time.Hour),
		TransactionEngineConfig{
			MinAmount: decimal.NewFromFloat(0.01),
			MaxAmount: decimal.NewFromInt(1000000),
			LockTTL:   30 * time.Second,
		},
	)
}

func (h *harness) reconciliationEngine() ReconciliationEngine {
	return NewReconciliationEngine(h.poolRepo, h.balanceRepo, h.ledgerRepo, decimal.NewFromFloat(0.01))
}

// seedUser attributes amount of the pool to userID through the real
// allocation path so ledger and balances stay consistent.
func (h *harness) seedUser(userID int64, amount decimal.Decimal) error {
	_, err := h.poolEngine().AllocateToUser(context.Background(), &AllocateRequest{
		UserID:      userID,
		Amount:      amount,
		Description: "seed",
	})
	return err
}
