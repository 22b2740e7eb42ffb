package storage

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// MemoryStorage is an in-memory Storage implementation, useful for tests and
// simple single-process deployments.
type MemoryStorage struct {
	mu            sync.RWMutex
	types         map[string]CustomerType
	customers     map[string]Customer
	bills         map[string]Bill
	surcharge     *SurchargeSettings
	users         map[string]User
	tokens        map[string]Token
	emailConfig   *EmailConfig
	settings      map[string]string
	scheduledJobs map[string]ScheduledJob
}

// NewMemory returns an empty MemoryStorage.
func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		types:         make(map[string]CustomerType),
		customers:     make(map[string]Customer),
		bills:         make(map[string]Bill),
		users:         make(map[string]User),
		tokens:        make(map[string]Token),
		settings:      make(map[string]string),
		scheduledJobs: make(map[string]ScheduledJob),
	}
}

// NewMemoryWithTypes returns a MemoryStorage preloaded with a rate schedule.
// Conversion from other packages' types is done by callers to avoid import
// cycles.
func NewMemoryWithTypes(list []CustomerType) *MemoryStorage {
	m := NewMemory()
	for _, ct := range list {
		m.types[ct.Type] = ct
	}
	return m
}

func (m *MemoryStorage) Close() error { return nil }

func (m *MemoryStorage) Ping(ctx context.Context) error { return nil }

// Customer types

func (m *MemoryStorage) ListCustomerTypes(ctx context.Context) ([]CustomerType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CustomerType, 0, len(m.types))
	for _, ct := range m.types {
		out = append(out, ct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}

func (m *MemoryStorage) GetCustomerType(ctx context.Context, typ string) (*CustomerType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ct, ok := m.types[typ]
	if !ok {
		return nil, nil
	}
	cp := ct
	return &cp, nil
}

func (m *MemoryStorage) UpsertCustomerType(ctx context.Context, ct CustomerType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.types[ct.Type] = ct
	return nil
}

func (m *MemoryStorage) DeleteCustomerType(ctx context.Context, typ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.types, typ)
	return nil
}

// Customers

func (m *MemoryStorage) ListCustomers(ctx context.Context) ([]Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Customer, 0, len(m.customers))
	for _, c := range m.customers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStorage) ListCustomersWithCredit(ctx context.Context) ([]Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Customer
	for _, c := range m.customers {
		if c.CreditBalance > 0 {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStorage) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.customers[id]
	if !ok {
		return nil, nil
	}
	cp := c
	return &cp, nil
}

func (m *MemoryStorage) CreateCustomer(ctx context.Context, c Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.customers[c.CustomerID]; exists {
		return fmt.Errorf("customer %s already exists", c.CustomerID)
	}
	m.customers[c.CustomerID] = c
	return nil
}

func (m *MemoryStorage) UpdateCustomer(ctx context.Context, c Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.customers[c.CustomerID]; !ok {
		return fmt.Errorf("customer %s not found", c.CustomerID)
	}
	m.customers[c.CustomerID] = c
	return nil
}

func (m *MemoryStorage) DeleteCustomer(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.customers, id)
	return nil
}

func (m *MemoryStorage) AdjustCredit(ctx context.Context, customerID string, balance float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[customerID]
	if !ok {
		return fmt.Errorf("customer %s not found", customerID)
	}
	c.CreditBalance = balance
	c.UpdatedAt = time.Now()
	m.customers[customerID] = c
	return nil
}

// Bills

func (m *MemoryStorage) CreateBill(ctx context.Context, b Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.bills {
		if existing.CustomerID == b.CustomerID && existing.BilledMonth.Equal(b.BilledMonth) {
			return ErrDuplicateBill
		}
	}
	m.bills[b.BillID] = b
	return nil
}

func (m *MemoryStorage) GetBill(ctx context.Context, billID string) (*Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bills[billID]
	if !ok {
		return nil, nil
	}
	cp := b
	return &cp, nil
}

func (m *MemoryStorage) GetBillForMonth(ctx context.Context, customerID string, month time.Time) (*Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.bills {
		if b.CustomerID == customerID && b.BilledMonth.Equal(month) {
			cp := b
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) GetLatestBill(ctx context.Context, customerID string) (*Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *Bill
	for _, b := range m.bills {
		if b.CustomerID != customerID {
			continue
		}
		if latest == nil || b.BilledMonth.After(latest.BilledMonth) {
			cp := b
			latest = &cp
		}
	}
	return latest, nil
}

func (m *MemoryStorage) ListBills(ctx context.Context, customerID string) ([]Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Bill
	for _, b := range m.bills {
		if b.CustomerID == customerID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BilledMonth.After(out[j].BilledMonth) })
	return out, nil
}

func (m *MemoryStorage) ListBillsByStatus(ctx context.Context, customerID, status string) ([]Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Bill
	for _, b := range m.bills {
		if b.CustomerID == customerID && b.PaymentStatus == status {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BilledMonth.After(out[j].BilledMonth) })
	return out, nil
}

func (m *MemoryStorage) ListUnpaidBillsDueBefore(ctx context.Context, cutoff time.Time) ([]Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Bill
	for _, b := range m.bills {
		if b.PaymentStatus == BillUnpaid && b.BilledMonth.Before(cutoff) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BilledMonth.Before(out[j].BilledMonth) })
	return out, nil
}

func (m *MemoryStorage) UpdateBillReadings(ctx context.Context, billID string, prev, curr, consumption, basic float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bills[billID]
	if !ok || b.PaymentStatus != BillUnpaid {
		return fmt.Errorf("bill %s not found or already paid", billID)
	}
	b.PreviousReading = prev
	b.CurrentReading = curr
	b.Consumption = consumption
	b.BasicAmount = basic
	m.bills[billID] = b
	return nil
}

func (m *MemoryStorage) DeleteBill(ctx context.Context, billID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bills, billID)
	return nil
}

// SettlePayment applies the whole settlement under one lock: either every bill
// flips to Paid and the credit balance moves, or nothing changes.
func (m *MemoryStorage) SettlePayment(ctx context.Context, u SettlementUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.customers[u.CustomerID]
	if !ok {
		return fmt.Errorf("customer %s not found", u.CustomerID)
	}
	if math.Abs(c.CreditBalance-u.ExpectedCredit) > 1e-9 {
		return ErrStaleCredit
	}
	for _, bs := range u.Bills {
		b, ok := m.bills[bs.BillID]
		if !ok || b.CustomerID != u.CustomerID || b.PaymentStatus != BillUnpaid {
			return fmt.Errorf("bill %s is not an unpaid bill of customer %s", bs.BillID, u.CustomerID)
		}
	}

	paidBy := u.PaidBy
	datePaid := u.DatePaid
	for _, bs := range u.Bills {
		b := m.bills[bs.BillID]
		b.PaymentStatus = BillPaid
		b.PaidBy = &paidBy
		b.DatePaid = &datePaid
		b.DiscountAmount = bs.DiscountAmount
		b.SurchargeAmount = bs.SurchargeAmount
		b.TotalBillAmount = bs.TotalBillAmount
		b.AdvanceAmount = bs.AdvanceAmount
		m.bills[bs.BillID] = b
	}
	c.CreditBalance += u.CreditDelta
	c.UpdatedAt = time.Now()
	m.customers[u.CustomerID] = c
	return nil
}

func (m *MemoryStorage) UnpayBill(ctx context.Context, billID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bills[billID]
	if !ok || b.PaymentStatus != BillPaid {
		return fmt.Errorf("bill %s is not a paid bill", billID)
	}
	b.PaymentStatus = BillUnpaid
	b.PaidBy = nil
	b.DatePaid = nil
	b.SurchargeAmount = 0
	b.DiscountAmount = 0
	b.TotalBillAmount = 0
	b.AdvanceAmount = 0
	m.bills[billID] = b
	return nil
}

// Surcharge settings

func (m *MemoryStorage) GetSurchargeSettings(ctx context.Context) (*SurchargeSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.surcharge == nil {
		return nil, nil
	}
	cp := *m.surcharge
	return &cp, nil
}

func (m *MemoryStorage) SaveSurchargeSettings(ctx context.Context, s SurchargeSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = "default"
	}
	m.surcharge = &s
	return nil
}

// Users

func (m *MemoryStorage) CreateUser(ctx context.Context, user User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	return nil
}

func (m *MemoryStorage) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *MemoryStorage) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) UpdateUser(ctx context.Context, user User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; !ok {
		return fmt.Errorf("user %s not found", user.ID)
	}
	m.users[user.ID] = user
	return nil
}

func (m *MemoryStorage) DeleteUser(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	return nil
}

func (m *MemoryStorage) ListUsers(ctx context.Context) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []User
	for _, u := range m.users {
		out = append(out, u)
	}
	return out, nil
}

// Tokens

func (m *MemoryStorage) CreateToken(ctx context.Context, token Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token.ID] = token
	return nil
}

func (m *MemoryStorage) GetTokenByHash(ctx context.Context, hash string) (*Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tokens {
		if t.TokenHash == hash {
			return &t, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) ListTokens(ctx context.Context, userID string) ([]Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Token
	for _, t := range m.tokens {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MemoryStorage) DeleteToken(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, id)
	return nil
}

func (m *MemoryStorage) UpdateTokenLastUsed(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tokens[id]; ok {
		now := time.Now()
		t.LastUsedAt = &now
		m.tokens[id] = t
	}
	return nil
}

// Casbin rules: in-memory storage does not persist rules, the enforcer keeps
// its own state.

func (m *MemoryStorage) LoadCasbinRules(ctx context.Context) ([]CasbinRule, error) {
	return nil, nil
}

func (m *MemoryStorage) AddCasbinRule(ctx context.Context, rule CasbinRule) error {
	return nil
}

func (m *MemoryStorage) RemoveCasbinRule(ctx context.Context, rule CasbinRule) error {
	return nil
}

// Email config

func (m *MemoryStorage) GetEmailConfig(ctx context.Context) (*EmailConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.emailConfig == nil {
		return nil, nil
	}
	cfg := *m.emailConfig
	return &cfg, nil
}

func (m *MemoryStorage) SaveEmailConfig(ctx context.Context, config EmailConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emailConfig = &config
	return nil
}

// Settings

func (m *MemoryStorage) GetSetting(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings[key], nil
}

func (m *MemoryStorage) SetSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

// Scheduled jobs & locking

func (m *MemoryStorage) AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	// Single instance always acquires the lock.
	return true, nil
}

func (m *MemoryStorage) ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	return true, nil
}

func (m *MemoryStorage) UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := 0
	if success {
		status = 1
	}
	m.scheduledJobs[name] = ScheduledJob{
		Name:           name,
		LastRunAt:      started,
		LastDurationMs: dur.Milliseconds(),
		LastSuccess:    status,
		LastError:      errMsg,
	}
	return nil
}
