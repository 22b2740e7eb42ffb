package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type GormStorage struct {
	db *gorm.DB
}

func NewGormStorage(driver, dsn string) (*GormStorage, error) {
	var gormDialector gorm.Dialector
	if driver == "postgres" {
		gormDialector = postgres.Open(dsn)
	} else if driver == "sqlite" {
		gormDialector = sqlite.Open(dsn)
	} else {
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := gorm.Open(gormDialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	return &GormStorage{db: db}, nil
}

func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.AutoMigrate(
		&CustomerType{},
		&Customer{},
		&Bill{},
		&SurchargeSettings{},
		&User{},
		&Token{},
		&CasbinRule{},
		&EmailConfig{},
		&Setting{},
		&ScheduledJob{},
	)
}

// Customer types

func (s *GormStorage) ListCustomerTypes(ctx context.Context) ([]CustomerType, error) {
	var types []CustomerType
	result := s.db.WithContext(ctx).Order("type").Find(&types)
	return types, result.Error
}

func (s *GormStorage) GetCustomerType(ctx context.Context, typ string) (*CustomerType, error) {
	var ct CustomerType
	result := s.db.WithContext(ctx).First(&ct, "type = ?", typ)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &ct, nil
}

func (s *GormStorage) UpsertCustomerType(ctx context.Context, ct CustomerType) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "type"}},
		UpdateAll: true,
	}).Create(&ct).Error
}

func (s *GormStorage) DeleteCustomerType(ctx context.Context, typ string) error {
	return s.db.WithContext(ctx).Delete(&CustomerType{}, "type = ?", typ).Error
}

// Customers

func (s *GormStorage) ListCustomers(ctx context.Context) ([]Customer, error) {
	var customers []Customer
	result := s.db.WithContext(ctx).Order("name").Find(&customers)
	return customers, result.Error
}

func (s *GormStorage) ListCustomersWithCredit(ctx context.Context) ([]Customer, error) {
	var customers []Customer
	result := s.db.WithContext(ctx).Where("credit_balance > 0").Order("name").Find(&customers)
	return customers, result.Error
}

func (s *GormStorage) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	var c Customer
	result := s.db.WithContext(ctx).First(&c, "customerid = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &c, nil
}

func (s *GormStorage) CreateCustomer(ctx context.Context, c Customer) error {
	return s.db.WithContext(ctx).Create(&c).Error
}

func (s *GormStorage) UpdateCustomer(ctx context.Context, c Customer) error {
	return s.db.WithContext(ctx).Save(&c).Error
}

func (s *GormStorage) DeleteCustomer(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&Customer{}, "customerid = ?", id).Error
}

func (s *GormStorage) AdjustCredit(ctx context.Context, customerID string, balance float64) error {
	result := s.db.WithContext(ctx).Model(&Customer{}).
		Where("customerid = ?", customerID).
		Updates(map[string]interface{}{"credit_balance": balance, "updated_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("customer %s not found", customerID)
	}
	return nil
}

// Bills

func (s *GormStorage) CreateBill(ctx context.Context, b Bill) error {
	err := s.db.WithContext(ctx).Create(&b).Error
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicateBill
	}
	return err
}

func (s *GormStorage) GetBill(ctx context.Context, billID string) (*Bill, error) {
	var b Bill
	result := s.db.WithContext(ctx).First(&b, "billid = ?", billID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &b, nil
}

func (s *GormStorage) GetBillForMonth(ctx context.Context, customerID string, month time.Time) (*Bill, error) {
	var b Bill
	result := s.db.WithContext(ctx).First(&b, "customerid = ? AND billedmonth = ?", customerID, month)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &b, nil
}

func (s *GormStorage) GetLatestBill(ctx context.Context, customerID string) (*Bill, error) {
	var b Bill
	result := s.db.WithContext(ctx).Order("billedmonth desc").First(&b, "customerid = ?", customerID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &b, nil
}

func (s *GormStorage) ListBills(ctx context.Context, customerID string) ([]Bill, error) {
	var bills []Bill
	result := s.db.WithContext(ctx).Order("billedmonth desc").Find(&bills, "customerid = ?", customerID)
	return bills, result.Error
}

func (s *GormStorage) ListBillsByStatus(ctx context.Context, customerID, status string) ([]Bill, error) {
	var bills []Bill
	result := s.db.WithContext(ctx).Order("billedmonth desc").
		Find(&bills, "customerid = ? AND paymentstatus = ?", customerID, status)
	return bills, result.Error
}

func (s *GormStorage) ListUnpaidBillsDueBefore(ctx context.Context, cutoff time.Time) ([]Bill, error) {
	var bills []Bill
	result := s.db.WithContext(ctx).Order("billedmonth").
		Find(&bills, "paymentstatus = ? AND billedmonth < ?", BillUnpaid, cutoff)
	return bills, result.Error
}

func (s *GormStorage) UpdateBillReadings(ctx context.Context, billID string, prev, curr, consumption, basic float64) error {
	result := s.db.WithContext(ctx).Model(&Bill{}).
		Where("billid = ? AND paymentstatus = ?", billID, BillUnpaid).
		Updates(map[string]interface{}{
			"previousreading": prev,
			"currentreading":  curr,
			"consumption":     consumption,
			"basicamount":     basic,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("bill %s not found or already paid", billID)
	}
	return nil
}

func (s *GormStorage) DeleteBill(ctx context.Context, billID string) error {
	return s.db.WithContext(ctx).Delete(&Bill{}, "billid = ?", billID).Error
}

// Settlement

// SettlePayment applies all bill updates and the credit adjustment in a single
// transaction. The credit write is conditional on the balance the caller read;
// any concurrent settlement for the same customer rolls this one back with
// ErrStaleCredit instead of losing an update.
func (s *GormStorage) SettlePayment(ctx context.Context, u SettlementUpdate) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, bs := range u.Bills {
			result := tx.Model(&Bill{}).
				Where("billid = ? AND customerid = ? AND paymentstatus = ?", bs.BillID, u.CustomerID, BillUnpaid).
				Updates(map[string]interface{}{
					"paymentstatus":        BillPaid,
					"paidby":               u.PaidBy,
					"datepaid":             u.DatePaid,
					"discountamount":       bs.DiscountAmount,
					"surchargeamount":      bs.SurchargeAmount,
					"totalbillamount":      bs.TotalBillAmount,
					"advancepaymentamount": bs.AdvanceAmount,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return fmt.Errorf("bill %s is not an unpaid bill of customer %s", bs.BillID, u.CustomerID)
			}
		}

		result := tx.Model(&Customer{}).
			Where("customerid = ? AND credit_balance = ?", u.CustomerID, u.ExpectedCredit).
			Updates(map[string]interface{}{
				"credit_balance": gorm.Expr("credit_balance + ?", u.CreditDelta),
				"updated_at":     time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrStaleCredit
		}
		return nil
	})
}

func (s *GormStorage) UnpayBill(ctx context.Context, billID string) error {
	result := s.db.WithContext(ctx).Model(&Bill{}).
		Where("billid = ? AND paymentstatus = ?", billID, BillPaid).
		Updates(map[string]interface{}{
			"paymentstatus":        BillUnpaid,
			"paidby":               nil,
			"datepaid":             nil,
			"surchargeamount":      0,
			"discountamount":       0,
			"totalbillamount":      0,
			"advancepaymentamount": 0,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("bill %s is not a paid bill", billID)
	}
	return nil
}

// Surcharge settings

func (s *GormStorage) GetSurchargeSettings(ctx context.Context) (*SurchargeSettings, error) {
	var settings SurchargeSettings
	result := s.db.WithContext(ctx).First(&settings)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &settings, nil
}

func (s *GormStorage) SaveSurchargeSettings(ctx context.Context, settings SurchargeSettings) error {
	if settings.ID == "" {
		settings.ID = "default"
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&settings).Error
}

// Users

func (s *GormStorage) CreateUser(ctx context.Context, user User) error {
	return s.db.WithContext(ctx).Create(&user).Error
}

func (s *GormStorage) GetUser(ctx context.Context, id string) (*User, error) {
	var user User
	result := s.db.WithContext(ctx).First(&user, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &user, nil
}

func (s *GormStorage) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	result := s.db.WithContext(ctx).First(&user, "username = ?", username)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &user, nil
}

func (s *GormStorage) UpdateUser(ctx context.Context, user User) error {
	return s.db.WithContext(ctx).Save(&user).Error
}

func (s *GormStorage) DeleteUser(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&User{}, "id = ?", id).Error
}

func (s *GormStorage) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	result := s.db.WithContext(ctx).Find(&users)
	return users, result.Error
}

// Tokens

func (s *GormStorage) CreateToken(ctx context.Context, token Token) error {
	return s.db.WithContext(ctx).Create(&token).Error
}

func (s *GormStorage) GetTokenByHash(ctx context.Context, hash string) (*Token, error) {
	var token Token
	result := s.db.WithContext(ctx).First(&token, "token_hash = ?", hash)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &token, nil
}

func (s *GormStorage) ListTokens(ctx context.Context, userID string) ([]Token, error) {
	var tokens []Token
	result := s.db.WithContext(ctx).Find(&tokens, "user_id = ?", userID)
	return tokens, result.Error
}

func (s *GormStorage) DeleteToken(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&Token{}, "id = ?", id).Error
}

func (s *GormStorage) UpdateTokenLastUsed(ctx context.Context, id string) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&Token{}).Where("id = ?", id).Update("last_used_at", now).Error
}

// Casbin Rules

func (s *GormStorage) LoadCasbinRules(ctx context.Context) ([]CasbinRule, error) {
	var rules []CasbinRule
	result := s.db.WithContext(ctx).Find(&rules)
	return rules, result.Error
}

func (s *GormStorage) AddCasbinRule(ctx context.Context, rule CasbinRule) error {
	return s.db.WithContext(ctx).Create(&rule).Error
}

func (s *GormStorage) RemoveCasbinRule(ctx context.Context, rule CasbinRule) error {
	return s.db.WithContext(ctx).Where(&rule).Delete(&CasbinRule{}).Error
}

// Email Config

func (s *GormStorage) GetEmailConfig(ctx context.Context) (*EmailConfig, error) {
	var config EmailConfig
	result := s.db.WithContext(ctx).First(&config)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &config, nil
}

func (s *GormStorage) SaveEmailConfig(ctx context.Context, config EmailConfig) error {
	if config.ID == "" {
		config.ID = "default"
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&config).Error
}

// Settings

func (s *GormStorage) GetSetting(ctx context.Context, key string) (string, error) {
	var setting Setting
	result := s.db.WithContext(ctx).First(&setting, "key = ?", key)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", result.Error
	}
	return setting.Value, nil
}

func (s *GormStorage) SetSetting(ctx context.Context, key, value string) error {
	setting := Setting{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		UpdateAll: true,
	}).Create(&setting).Error
}

// Scheduled Jobs & Locking

func (s *GormStorage) AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	if s.db.Dialector.Name() == "postgres" {
		var ok bool
		err := s.db.WithContext(ctx).Raw("SELECT pg_try_advisory_lock(?)", key).Scan(&ok).Error
		return ok, err
	}
	// SQLite has no advisory locks, assume single instance.
	return true, nil
}

func (s *GormStorage) ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	if s.db.Dialector.Name() == "postgres" {
		var ok bool
		err := s.db.WithContext(ctx).Raw("SELECT pg_advisory_unlock(?)", key).Scan(&ok).Error
		return ok, err
	}
	return true, nil
}

func (s *GormStorage) UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error {
	status := 0
	if success {
		status = 1
	}
	job := ScheduledJob{
		Name:           name,
		LastRunAt:      started,
		LastDurationMs: dur.Milliseconds(),
		LastSuccess:    status,
		LastError:      errMsg,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		UpdateAll: true,
	}).Create(&job).Error
}

// Close & Ping

func (s *GormStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStorage) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}
