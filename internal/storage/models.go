package storage

import "time"

// Customer status values.
const (
	CustomerActive       = "Active"
	CustomerDisconnected = "Disconnected"
)

// Bill payment status values. Overdue is a display label derived at read
// time, never stored.
const (
	BillUnpaid = "Unpaid"
	BillPaid   = "Paid"
)

// CustomerType holds the two-tier volumetric rate for a class of customers.
// Rate1 applies to the first 3 units of consumption, Rate2 beyond that.
type CustomerType struct {
	Type  string  `json:"type" gorm:"primaryKey;column:type"`
	Rate1 float64 `json:"rate1" gorm:"column:rate1"`
	Rate2 float64 `json:"rate2" gorm:"column:rate2"`
}

// Customer is a metered water connection.
type Customer struct {
	CustomerID      string    `json:"customerid" gorm:"primaryKey;column:customerid"`
	Name            string    `json:"name" gorm:"column:name"`
	Barangay        string    `json:"barangay" gorm:"column:barangay"`
	Email           string    `json:"email,omitempty" gorm:"column:email"`
	Type            string    `json:"type" gorm:"column:type"`
	DiscountPercent float64   `json:"discount" gorm:"column:discount"`
	CreditBalance   float64   `json:"credit_balance" gorm:"column:credit_balance"`
	Status          string    `json:"status" gorm:"column:status"`
	CreatedAt       time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt       time.Time `json:"updated_at" gorm:"column:updated_at"`
}

// Bill is one billed month of consumption for a customer. At most one bill may
// exist per (customerid, billedmonth); the composite unique index backs the
// pre-insert check so concurrent encoders cannot slip in a duplicate.
type Bill struct {
	BillID          string     `json:"billid" gorm:"primaryKey;column:billid"`
	CustomerID      string     `json:"customerid" gorm:"column:customerid;index:idx_bills_customer_month,unique"`
	BilledMonth     time.Time  `json:"billedmonth" gorm:"column:billedmonth;index:idx_bills_customer_month,unique"`
	PreviousReading float64    `json:"previousreading" gorm:"column:previousreading"`
	CurrentReading  float64    `json:"currentreading" gorm:"column:currentreading"`
	Consumption     float64    `json:"consumption" gorm:"column:consumption"`
	BasicAmount     float64    `json:"basicamount" gorm:"column:basicamount"`
	SurchargeAmount float64    `json:"surchargeamount" gorm:"column:surchargeamount"`
	DiscountAmount  float64    `json:"discountamount" gorm:"column:discountamount"`
	TotalBillAmount float64    `json:"totalbillamount" gorm:"column:totalbillamount"`
	AdvanceAmount   float64    `json:"advancepaymentamount" gorm:"column:advancepaymentamount"`
	PaymentStatus   string     `json:"paymentstatus" gorm:"column:paymentstatus"`
	EncodedBy       string     `json:"encodedby" gorm:"column:encodedby"`
	DateEncoded     time.Time  `json:"dateencoded" gorm:"column:dateencoded"`
	PaidBy          *string    `json:"paidby,omitempty" gorm:"column:paidby"`
	DatePaid        *time.Time `json:"datepaid,omitempty" gorm:"column:datepaid"`
}

// SurchargeSettings is the tenant-wide late-payment configuration, a single
// row keyed by a fixed ID.
type SurchargeSettings struct {
	ID                     string  `json:"-" gorm:"primaryKey;column:id"`
	DueDay                 int     `json:"due_day" gorm:"column:due_day"`
	FirstSurchargePercent  float64 `json:"first_surcharge_percent" gorm:"column:first_surcharge_percent"`
	SecondSurchargePercent float64 `json:"second_surcharge_percent" gorm:"column:second_surcharge_percent"`
}

// User represents an operator account.
type User struct {
	ID           string    `json:"id" gorm:"primaryKey;column:id"`
	Username     string    `json:"username" gorm:"unique;column:username"`
	FirstName    string    `json:"first_name" gorm:"column:first_name"`
	LastName     string    `json:"last_name" gorm:"column:last_name"`
	Email        string    `json:"email" gorm:"column:email"`
	PasswordHash string    `json:"-" gorm:"column:password_hash"`
	Role         string    `json:"role" gorm:"column:role"`
	CreatedAt    time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"column:updated_at"`
}

// DisplayName is the operator name recorded in bill audit fields.
func (u User) DisplayName() string {
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	if name == "" {
		return u.Username
	}
	return name
}

// Token represents an API access token.
type Token struct {
	ID         string     `json:"id" gorm:"primaryKey;column:id"`
	UserID     string     `json:"user_id" gorm:"column:user_id"`
	Name       string     `json:"name" gorm:"column:name"`
	TokenHash  string     `json:"-" gorm:"column:token_hash"`
	Role       string     `json:"role" gorm:"column:role"`
	CreatedAt  time.Time  `json:"created_at" gorm:"column:created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" gorm:"column:expires_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" gorm:"column:last_used_at"`
}

// CasbinRule represents a policy rule for RBAC.
type CasbinRule struct {
	ID    uint   `gorm:"primaryKey"`
	PType string `json:"ptype" gorm:"column:ptype"`
	V0    string `json:"v0" gorm:"column:v0"`
	V1    string `json:"v1" gorm:"column:v1"`
	V2    string `json:"v2" gorm:"column:v2"`
	V3    string `json:"v3" gorm:"column:v3"`
	V4    string `json:"v4" gorm:"column:v4"`
	V5    string `json:"v5" gorm:"column:v5"`
}

// EmailConfig holds configuration for outgoing notices and receipts.
type EmailConfig struct {
	ID          string    `json:"id" gorm:"primaryKey;column:id"`
	Provider    string    `json:"provider" gorm:"column:provider"` // "smtp", "gmail", "sendgrid"
	Host        string    `json:"host,omitempty" gorm:"column:host"`
	Port        int       `json:"port,omitempty" gorm:"column:port"`
	Username    string    `json:"username,omitempty" gorm:"column:username"`
	Password    string    `json:"password,omitempty" gorm:"column:password"`
	FromAddress string    `json:"from_address" gorm:"column:from_address"`
	FromName    string    `json:"from_name" gorm:"column:from_name"`
	APIKey      string    `json:"api_key,omitempty" gorm:"column:api_key"`
	Encryption  string    `json:"encryption,omitempty" gorm:"column:encryption"` // "none", "ssl", "tls"
	Enabled     bool      `json:"enabled" gorm:"column:enabled"`
	CreatedAt   time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"column:updated_at"`
}

// Setting is a generic key/value configuration row.
type Setting struct {
	Key       string    `gorm:"primaryKey;column:key"`
	Value     string    `gorm:"column:value"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// ScheduledJob records the last run of a background job.
type ScheduledJob struct {
	Name           string    `gorm:"primaryKey;column:name"`
	LastRunAt      time.Time `gorm:"column:last_run_at"`
	LastDurationMs int64     `gorm:"column:last_duration_ms"`
	LastSuccess    int       `gorm:"column:last_success"`
	LastError      string    `gorm:"column:last_error"`
}
