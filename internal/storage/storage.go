package storage

import (
	"context"
	"errors"
	"time"
)

// ErrStaleCredit is returned by SettlePayment when the customer's credit
// balance changed between the caller's read and the settlement write. The
// caller should re-read and retry the whole settlement.
var ErrStaleCredit = errors.New("storage: stale credit balance")

// ErrDuplicateBill is returned by CreateBill when a bill already exists for
// the same customer and billed month.
var ErrDuplicateBill = errors.New("storage: duplicate bill for customer and month")

// BillSettlement carries the per-bill financial fields written during payment
// settlement.
type BillSettlement struct {
	BillID          string
	DiscountAmount  float64
	SurchargeAmount float64
	TotalBillAmount float64
	AdvanceAmount   float64
}

// SettlementUpdate is applied atomically: every bill flips Unpaid -> Paid and
// the customer's credit balance is adjusted by CreditDelta, or nothing is
// written at all. ExpectedCredit is the credit balance the caller computed
// against; a mismatch at write time yields ErrStaleCredit.
type SettlementUpdate struct {
	CustomerID     string
	PaidBy         string
	DatePaid       time.Time
	Bills          []BillSettlement
	CreditDelta    float64
	ExpectedCredit float64
}

// Storage abstracts persistence for customers, bills, settlement, and the
// surrounding operational tables.
type Storage interface {
	// Customer types (rate schedule)
	ListCustomerTypes(ctx context.Context) ([]CustomerType, error)
	GetCustomerType(ctx context.Context, typ string) (*CustomerType, error)
	UpsertCustomerType(ctx context.Context, ct CustomerType) error
	DeleteCustomerType(ctx context.Context, typ string) error

	// Customers
	ListCustomers(ctx context.Context) ([]Customer, error)
	ListCustomersWithCredit(ctx context.Context) ([]Customer, error)
	GetCustomer(ctx context.Context, id string) (*Customer, error)
	CreateCustomer(ctx context.Context, c Customer) error
	UpdateCustomer(ctx context.Context, c Customer) error
	DeleteCustomer(ctx context.Context, id string) error
	// AdjustCredit overwrites the customer's credit balance (operator action).
	AdjustCredit(ctx context.Context, customerID string, balance float64) error

	// Bills
	CreateBill(ctx context.Context, b Bill) error
	GetBill(ctx context.Context, billID string) (*Bill, error)
	GetBillForMonth(ctx context.Context, customerID string, month time.Time) (*Bill, error)
	GetLatestBill(ctx context.Context, customerID string) (*Bill, error)
	ListBills(ctx context.Context, customerID string) ([]Bill, error)
	ListBillsByStatus(ctx context.Context, customerID, status string) ([]Bill, error)
	ListUnpaidBillsDueBefore(ctx context.Context, cutoff time.Time) ([]Bill, error)
	UpdateBillReadings(ctx context.Context, billID string, prev, curr, consumption, basic float64) error
	DeleteBill(ctx context.Context, billID string) error

	// Settlement
	SettlePayment(ctx context.Context, u SettlementUpdate) error
	UnpayBill(ctx context.Context, billID string) error

	// Surcharge settings
	GetSurchargeSettings(ctx context.Context) (*SurchargeSettings, error)
	SaveSurchargeSettings(ctx context.Context, s SurchargeSettings) error

	// Users
	CreateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	UpdateUser(ctx context.Context, user User) error
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context) ([]User, error)

	// Tokens
	CreateToken(ctx context.Context, token Token) error
	GetTokenByHash(ctx context.Context, hash string) (*Token, error)
	ListTokens(ctx context.Context, userID string) ([]Token, error)
	DeleteToken(ctx context.Context, id string) error
	UpdateTokenLastUsed(ctx context.Context, id string) error

	// Casbin rules
	LoadCasbinRules(ctx context.Context) ([]CasbinRule, error)
	AddCasbinRule(ctx context.Context, rule CasbinRule) error
	RemoveCasbinRule(ctx context.Context, rule CasbinRule) error

	// Email config
	GetEmailConfig(ctx context.Context) (*EmailConfig, error)
	SaveEmailConfig(ctx context.Context, config EmailConfig) error

	// Settings
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	// Scheduled jobs & locking
	AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error)
	ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error)
	UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error

	Ping(ctx context.Context) error

	// Close releases any resources (no-op for in-memory).
	Close() error
}
