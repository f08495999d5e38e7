package store

import (
	"bytes"
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"credits/internal/credit/models"
	id "credits/pkg/domain"
	"credits/pkg/platform/sentinel"
)

type accountKey struct {
	userID     id.UserID
	creditType models.CreditType
}

type idempotencyKey struct {
	accountID id.AccountID
	key       string
}

// InMemoryStore is a mutex-guarded ledger store for tests and single-process runs.
// Every method copies values in and out so callers never share state with the store.
type InMemoryStore struct {
	mu sync.RWMutex

	accounts       map[id.AccountID]*models.CreditAccount
	accountsByUser map[accountKey]id.AccountID
	transactions   []*models.CreditTransaction
	idempotency    map[idempotencyKey]id.TransactionID
	allocations    map[id.AllocationID]*models.CreditAllocation
	campaigns      map[id.CampaignID]*models.CreditCampaign
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		accounts:       make(map[id.AccountID]*models.CreditAccount),
		accountsByUser: make(map[accountKey]id.AccountID),
		idempotency:    make(map[idempotencyKey]id.TransactionID),
		allocations:    make(map[id.AllocationID]*models.CreditAllocation),
		campaigns:      make(map[id.CampaignID]*models.CreditCampaign),
	}
}

// -----------------------------------------------------------------------------
// Accounts
// -----------------------------------------------------------------------------

func (s *InMemoryStore) CreateAccount(_ context.Context, account *models.CreditAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := accountKey{userID: account.UserID, creditType: account.CreditType}
	if _, exists := s.accountsByUser[key]; exists {
		return sentinel.ErrConflict
	}
	if _, exists := s.accounts[account.ID]; exists {
		return sentinel.ErrConflict
	}
	s.accounts[account.ID] = cloneAccount(account)
	s.accountsByUser[key] = account.ID
	return nil
}

func (s *InMemoryStore) GetAccountByID(_ context.Context, accountID id.AccountID) (*models.CreditAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneAccount(account), nil
}

func (s *InMemoryStore) GetAccountByUserAndType(_ context.Context, userID id.UserID, creditType models.CreditType) (*models.CreditAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accountID, ok := s.accountsByUser[accountKey{userID: userID, creditType: creditType}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneAccount(s.accounts[accountID]), nil
}

func (s *InMemoryStore) ListAccountsForUser(_ context.Context, userID id.UserID, filter models.AccountFilter) ([]*models.CreditAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.CreditAccount
	for _, a := range s.accounts {
		if a.UserID != userID {
			continue
		}
		if filter.ActiveOnly && !a.IsActive {
			continue
		}
		if len(filter.CreditTypes) > 0 && !slices.Contains(filter.CreditTypes, a.CreditType) {
			continue
		}
		out = append(out, cloneAccount(a))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreditType.Priority() < out[j].CreditType.Priority()
	})
	return out, nil
}

func (s *InMemoryStore) UpdateAccountBalance(_ context.Context, accountID id.AccountID, delta int64, txType models.TransactionType) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if account.Balance+delta < 0 {
		return false, nil
	}
	account.Balance += delta
	applyCounter(account, delta, txType)
	account.UpdatedAt = time.Now()
	return true, nil
}

// applyCounter keeps Balance == TotalAllocated - TotalConsumed - TotalExpired.
func applyCounter(account *models.CreditAccount, delta int64, txType models.TransactionType) {
	switch txType {
	case models.TransactionAllocate, models.TransactionTransferIn:
		account.TotalAllocated += delta
	case models.TransactionConsume, models.TransactionTransferOut:
		account.TotalConsumed -= delta
	case models.TransactionExpire:
		account.TotalExpired -= delta
	}
}

func (s *InMemoryStore) SetAccountActive(_ context.Context, accountID id.AccountID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return sentinel.ErrNotFound
	}
	account.IsActive = active
	account.UpdatedAt = time.Now()
	return nil
}

// -----------------------------------------------------------------------------
// Transactions
// -----------------------------------------------------------------------------

func (s *InMemoryStore) CreateTransaction(_ context.Context, txn *models.CreditTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if txn.IdempotencyKey != "" {
		key := idempotencyKey{accountID: txn.AccountID, key: txn.IdempotencyKey}
		if _, exists := s.idempotency[key]; exists {
			return sentinel.ErrConflict
		}
		s.idempotency[key] = txn.ID
	}
	s.transactions = append(s.transactions, cloneTransaction(txn))
	return nil
}

func (s *InMemoryStore) FindTransactionByIdempotencyKey(_ context.Context, accountID id.AccountID, key string) (*models.CreditTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txnID, ok := s.idempotency[idempotencyKey{accountID: accountID, key: key}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	for _, t := range s.transactions {
		if t.ID == txnID {
			return cloneTransaction(t), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) ListTransactionsForUser(_ context.Context, userID id.UserID, filter models.TransactionFilter) ([]*models.CreditTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filter.Normalize()
	var matched []*models.CreditTransaction
	// newest first; ties keep reverse insertion order
	for i := len(s.transactions) - 1; i >= 0; i-- {
		t := s.transactions[i]
		if t.UserID != userID {
			continue
		}
		if len(filter.Types) > 0 && !slices.Contains(filter.Types, t.Type) {
			continue
		}
		if len(filter.CreditTypes) > 0 && !slices.Contains(filter.CreditTypes, t.CreditType) {
			continue
		}
		if filter.From != nil && t.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !t.CreatedAt.Before(*filter.To) {
			continue
		}
		matched = append(matched, t)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Offset >= len(matched) {
		return []*models.CreditTransaction{}, nil
	}
	matched = matched[filter.Offset:]
	if len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	out := make([]*models.CreditTransaction, 0, len(matched))
	for _, t := range matched {
		out = append(out, cloneTransaction(t))
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Allocations
// -----------------------------------------------------------------------------

func (s *InMemoryStore) CreateAllocation(_ context.Context, allocation *models.CreditAllocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.allocations[allocation.ID]; exists {
		return sentinel.ErrConflict
	}
	for _, a := range s.allocations {
		if a.TransactionID == allocation.TransactionID {
			return sentinel.ErrConflict
		}
	}
	s.allocations[allocation.ID] = cloneAllocation(allocation)
	return nil
}

func (s *InMemoryStore) GetAllocationByID(_ context.Context, allocationID id.AllocationID) (*models.CreditAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.allocations[allocationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneAllocation(a), nil
}

func (s *InMemoryStore) FindAllocationByTransaction(_ context.Context, txnID id.TransactionID) (*models.CreditAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.allocations {
		if a.TransactionID == txnID {
			return cloneAllocation(a), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) GetAvailableAllocationsFifo(_ context.Context, accountID id.AccountID, now time.Time) ([]*models.CreditAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.CreditAllocation
	for _, a := range s.allocations {
		if a.AccountID != accountID || a.Available() <= 0 {
			continue
		}
		if a.ExpiresAt != nil && !a.ExpiresAt.After(now) {
			continue
		}
		out = append(out, cloneAllocation(a))
	}
	sortFifo(out)
	return out, nil
}

func (s *InMemoryStore) SumOpenAllocations(_ context.Context, accountID id.AccountID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum int64
	for _, a := range s.allocations {
		if a.AccountID == accountID && a.Available() > 0 {
			sum += a.Available()
		}
	}
	return sum, nil
}

func (s *InMemoryStore) UpdateAllocationConsumed(_ context.Context, allocationID id.AllocationID, amount int64) (bool, error) {
	return s.bumpAllocation(allocationID, amount, false)
}

func (s *InMemoryStore) UpdateAllocationExpired(_ context.Context, allocationID id.AllocationID, amount int64) (bool, error) {
	return s.bumpAllocation(allocationID, amount, true)
}

func (s *InMemoryStore) bumpAllocation(allocationID id.AllocationID, amount int64, expired bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.allocations[allocationID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if amount <= 0 || a.ConsumedAmount+a.ExpiredAmount+amount > a.Amount {
		return false, nil
	}
	if expired {
		a.ExpiredAmount += amount
	} else {
		a.ConsumedAmount += amount
	}
	a.Status = models.StatusFor(a.Amount, a.ConsumedAmount, a.ExpiredAmount)
	a.UpdatedAt = time.Now()
	return true, nil
}

func (s *InMemoryStore) GetExpiringAllocations(_ context.Context, before time.Time, after *models.ExpiryCursor, limit int) ([]*models.CreditAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.CreditAllocation
	for _, a := range s.allocations {
		if a.ExpiresAt == nil || a.ExpiresAt.After(before) || a.Available() <= 0 {
			continue
		}
		if after != nil && compareExpiry(*a.ExpiresAt, a.ID, after.ExpiresAt, after.ID) <= 0 {
			continue
		}
		out = append(out, cloneAllocation(a))
	}
	slices.SortFunc(out, func(a, b *models.CreditAllocation) int {
		return compareExpiry(*a.ExpiresAt, a.ID, *b.ExpiresAt, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// compareExpiry orders by expiry, then by the ID's bytes as Postgres orders uuid.
func compareExpiry(at time.Time, aID id.AllocationID, bt time.Time, bID id.AllocationID) int {
	if c := at.Compare(bt); c != 0 {
		return c
	}
	return bytes.Compare(aID[:], bID[:])
}

func (s *InMemoryStore) GetAllocationsExpiringBetween(_ context.Context, from, to time.Time) ([]*models.CreditAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.CreditAllocation
	for _, a := range s.allocations {
		if a.ExpiresAt == nil || !a.ExpiresAt.After(from) || a.ExpiresAt.After(to) || a.Available() <= 0 {
			continue
		}
		out = append(out, cloneAllocation(a))
	}
	sortFifo(out)
	return out, nil
}

// sortFifo orders by expiry (never-expiring last), then creation, then ID,
// matching the ORDER BY of the Postgres queries.
func sortFifo(allocs []*models.CreditAllocation) {
	sort.Slice(allocs, func(i, j int) bool {
		a, b := allocs[i], allocs[j]
		switch {
		case a.ExpiresAt == nil && b.ExpiresAt != nil:
			return false
		case a.ExpiresAt != nil && b.ExpiresAt == nil:
			return true
		case a.ExpiresAt != nil && !a.ExpiresAt.Equal(*b.ExpiresAt):
			return a.ExpiresAt.Before(*b.ExpiresAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
}

// -----------------------------------------------------------------------------
// Campaigns
// -----------------------------------------------------------------------------

func (s *InMemoryStore) CreateCampaign(_ context.Context, campaign *models.CreditCampaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.campaigns[campaign.ID]; exists {
		return sentinel.ErrConflict
	}
	s.campaigns[campaign.ID] = cloneCampaign(campaign)
	return nil
}

func (s *InMemoryStore) GetCampaignByID(_ context.Context, campaignID id.CampaignID) (*models.CreditCampaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.campaigns[campaignID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneCampaign(c), nil
}

func (s *InMemoryStore) UpdateCampaignBudget(_ context.Context, campaignID id.CampaignID, delta int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[campaignID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	next := c.AllocatedAmount + delta
	if next > c.TotalBudget || next < 0 {
		return false, nil
	}
	c.AllocatedAmount = next
	c.UpdatedAt = time.Now()
	return true, nil
}

func (s *InMemoryStore) GetActiveCampaigns(_ context.Context, creditType *models.CreditType, now time.Time) ([]*models.CreditCampaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.CreditCampaign
	for _, c := range s.campaigns {
		if !c.IsRunningAt(now) {
			continue
		}
		if creditType != nil && c.CreditType != *creditType {
			continue
		}
		out = append(out, cloneCampaign(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndDate.Before(out[j].EndDate) })
	return out, nil
}

func (s *InMemoryStore) CountUserCampaignAllocations(_ context.Context, userID id.UserID, campaignID id.CampaignID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, a := range s.allocations {
		if a.UserID == userID && a.CampaignID != nil && *a.CampaignID == campaignID {
			count++
		}
	}
	return count, nil
}

// -----------------------------------------------------------------------------
// Erasure
// -----------------------------------------------------------------------------

func (s *InMemoryStore) DeleteAllUserData(_ context.Context, userID id.UserID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	kept := s.transactions[:0]
	for _, t := range s.transactions {
		if t.UserID == userID {
			deleted++
			if t.IdempotencyKey != "" {
				delete(s.idempotency, idempotencyKey{accountID: t.AccountID, key: t.IdempotencyKey})
			}
			continue
		}
		kept = append(kept, t)
	}
	s.transactions = kept

	for allocID, a := range s.allocations {
		if a.UserID == userID {
			delete(s.allocations, allocID)
			deleted++
		}
	}
	for accountID, a := range s.accounts {
		if a.UserID == userID {
			delete(s.accountsByUser, accountKey{userID: a.UserID, creditType: a.CreditType})
			delete(s.accounts, accountID)
			deleted++
		}
	}
	return deleted, nil
}

// -----------------------------------------------------------------------------
// Copies
// -----------------------------------------------------------------------------

func cloneMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneAccount(a *models.CreditAccount) *models.CreditAccount {
	c := *a
	c.Metadata = cloneMetadata(a.Metadata)
	return &c
}

func cloneTransaction(t *models.CreditTransaction) *models.CreditTransaction {
	c := *t
	c.Metadata = cloneMetadata(t.Metadata)
	c.ExpiresAt = cloneTime(t.ExpiresAt)
	if t.AllocationID != nil {
		allocID := *t.AllocationID
		c.AllocationID = &allocID
	}
	return &c
}

func cloneAllocation(a *models.CreditAllocation) *models.CreditAllocation {
	c := *a
	c.Metadata = cloneMetadata(a.Metadata)
	c.ExpiresAt = cloneTime(a.ExpiresAt)
	if a.CampaignID != nil {
		campaignID := *a.CampaignID
		c.CampaignID = &campaignID
	}
	return &c
}

func cloneCampaign(c *models.CreditCampaign) *models.CreditCampaign {
	out := *c
	out.EligibilityRules = cloneMetadata(c.EligibilityRules)
	return &out
}
