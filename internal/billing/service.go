package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mtowater/waterbilling/internal/storage"
)

// Service coordinates bill creation and payment settlement against a storage
// backend.
type Service struct {
	store storage.Storage
}

// NewService returns a billing service backed by the given storage.
func NewService(st storage.Storage) *Service {
	return &Service{store: st}
}

// ResolveRate looks up the two-tier rate for a customer type. A missing type
// yields ErrRateNotFound; form previews recover by defaulting to zero rates.
func (s *Service) ResolveRate(ctx context.Context, customerType string) (Rate, error) {
	ct, err := s.store.GetCustomerType(ctx, customerType)
	if err != nil {
		return Rate{}, fmt.Errorf("resolve rate for type %q: %w", customerType, err)
	}
	if ct == nil {
		return Rate{}, fmt.Errorf("%w: %q", ErrRateNotFound, customerType)
	}
	return Rate{Rate1: ct.Rate1, Rate2: ct.Rate2}, nil
}

// rateOrZero resolves the rate for a customer type, falling back to {0,0} on a
// lookup miss so the surrounding form never crashes on an unconfigured type.
func (s *Service) rateOrZero(ctx context.Context, customerType string) (Rate, error) {
	r, err := s.ResolveRate(ctx, customerType)
	if errors.Is(err, ErrRateNotFound) {
		return Rate{}, nil
	}
	return r, err
}

// SurchargeConfig loads the tenant surcharge schedule, defaulting when none
// has been saved yet.
func (s *Service) SurchargeConfig(ctx context.Context) (SurchargeConfig, error) {
	settings, err := s.store.GetSurchargeSettings(ctx)
	if err != nil {
		return SurchargeConfig{}, fmt.Errorf("load surcharge settings: %w", err)
	}
	if settings == nil {
		return DefaultSurchargeConfig(), nil
	}
	cfg := SurchargeConfig{
		DueDay:                 settings.DueDay,
		FirstSurchargePercent:  settings.FirstSurchargePercent,
		SecondSurchargePercent: settings.SecondSurchargePercent,
	}
	if cfg.DueDay == 0 {
		cfg.DueDay = DefaultDueDay
	}
	return cfg, nil
}

// BillPreview is the live recomputation shown while an operator types meter
// readings. Same inputs always produce the same preview.
type BillPreview struct {
	Rate        Rate    `json:"rate"`
	Consumption float64 `json:"consumption"`
	BasicAmount float64 `json:"basicamount"`
}

// PreviewBill computes consumption and basic amount for a customer without
// persisting anything.
func (s *Service) PreviewBill(ctx context.Context, customerID string, prev, curr float64) (*BillPreview, error) {
	customer, err := s.store.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("load customer: %w", err)
	}
	if customer == nil {
		return nil, fmt.Errorf("%w: customer %s not found", ErrValidation, customerID)
	}
	rate, err := s.rateOrZero(ctx, customer.Type)
	if err != nil {
		return nil, err
	}
	consumption, basic := CalculateCharge(prev, curr, rate)
	return &BillPreview{Rate: rate, Consumption: consumption, BasicAmount: basic}, nil
}

// NextBillSuggestion carries the defaults for a new bill entry form: the month
// after the customer's latest bill and that bill's closing reading.
type NextBillSuggestion struct {
	BilledMonth     time.Time `json:"billedmonth"`
	PreviousReading float64   `json:"previousreading"`
}

// SuggestNextBill derives the next billed month and previous reading from the
// customer's latest bill.
func (s *Service) SuggestNextBill(ctx context.Context, customerID string, now time.Time) (*NextBillSuggestion, error) {
	latest, err := s.store.GetLatestBill(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("load latest bill: %w", err)
	}
	sugg := &NextBillSuggestion{}
	if latest != nil {
		sugg.BilledMonth = NextBilledMonth(&latest.BilledMonth, now)
		sugg.PreviousReading = latest.CurrentReading
	} else {
		sugg.BilledMonth = NextBilledMonth(nil, now)
	}
	return sugg, nil
}

// CreateBillInput is the operator's bill entry.
type CreateBillInput struct {
	CustomerID      string
	BilledMonth     time.Time
	PreviousReading float64
	CurrentReading  float64
	EncodedBy       string
}

// CreateBill validates a meter reading entry, computes the tiered charge, and
// persists a new Unpaid bill. Reading-order violations and duplicate
// customer/month bills are rejected before anything is written; the storage
// layer's unique index backs the duplicate check against concurrent encoders.
func (s *Service) CreateBill(ctx context.Context, in CreateBillInput) (*storage.Bill, error) {
	if in.CustomerID == "" || in.BilledMonth.IsZero() {
		return nil, fmt.Errorf("%w: customer and billed month are required", ErrValidation)
	}
	if in.CurrentReading < in.PreviousReading {
		return nil, fmt.Errorf("%w: current reading cannot be less than previous reading", ErrValidation)
	}

	customer, err := s.store.GetCustomer(ctx, in.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("load customer: %w", err)
	}
	if customer == nil {
		return nil, fmt.Errorf("%w: customer %s not found", ErrValidation, in.CustomerID)
	}

	month := NormalizeMonth(in.BilledMonth)
	existing, err := s.store.GetBillForMonth(ctx, in.CustomerID, month)
	if err != nil {
		return nil, fmt.Errorf("check existing bill: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: a bill for %s already exists for %s", ErrValidation,
			month.Format("2006-01"), customer.Name)
	}

	rate, err := s.rateOrZero(ctx, customer.Type)
	if err != nil {
		return nil, err
	}
	consumption, basic := CalculateCharge(in.PreviousReading, in.CurrentReading, rate)

	bill := storage.Bill{
		BillID:          uuid.New().String(),
		CustomerID:      in.CustomerID,
		BilledMonth:     month,
		PreviousReading: in.PreviousReading,
		CurrentReading:  in.CurrentReading,
		Consumption:     consumption,
		BasicAmount:     basic,
		PaymentStatus:   storage.BillUnpaid,
		EncodedBy:       in.EncodedBy,
		DateEncoded:     time.Now().UTC(),
	}
	if err := s.store.CreateBill(ctx, bill); err != nil {
		if errors.Is(err, storage.ErrDuplicateBill) {
			return nil, fmt.Errorf("%w: a bill for %s already exists for %s", ErrValidation,
				month.Format("2006-01"), customer.Name)
		}
		return nil, fmt.Errorf("create bill: %w", err)
	}
	return &bill, nil
}

// UpdateBillReadings edits the readings of an unpaid bill and recomputes its
// charge. Paid bills are immutable.
func (s *Service) UpdateBillReadings(ctx context.Context, billID string, prev, curr float64) (*storage.Bill, error) {
	if curr < prev {
		return nil, fmt.Errorf("%w: current reading cannot be less than previous reading", ErrValidation)
	}
	bill, err := s.store.GetBill(ctx, billID)
	if err != nil {
		return nil, fmt.Errorf("load bill: %w", err)
	}
	if bill == nil {
		return nil, fmt.Errorf("%w: bill %s not found", ErrValidation, billID)
	}
	if bill.PaymentStatus == storage.BillPaid {
		return nil, fmt.Errorf("%w: paid bills cannot be edited", ErrValidation)
	}

	customer, err := s.store.GetCustomer(ctx, bill.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("load customer: %w", err)
	}
	var rate Rate
	if customer != nil {
		if rate, err = s.rateOrZero(ctx, customer.Type); err != nil {
			return nil, err
		}
	}
	consumption, basic := CalculateCharge(prev, curr, rate)
	if err := s.store.UpdateBillReadings(ctx, billID, prev, curr, consumption, basic); err != nil {
		return nil, fmt.Errorf("update bill: %w", err)
	}

	bill.PreviousReading = prev
	bill.CurrentReading = curr
	bill.Consumption = consumption
	bill.BasicAmount = basic
	return bill, nil
}

// DeleteBill removes an unpaid bill.
func (s *Service) DeleteBill(ctx context.Context, billID string) error {
	bill, err := s.store.GetBill(ctx, billID)
	if err != nil {
		return fmt.Errorf("load bill: %w", err)
	}
	if bill == nil {
		return fmt.Errorf("%w: bill %s not found", ErrValidation, billID)
	}
	if bill.PaymentStatus == storage.BillPaid {
		return fmt.Errorf("%w: paid bills cannot be deleted", ErrValidation)
	}
	return s.store.DeleteBill(ctx, billID)
}

// SettlementPreview is the totals panel shown before a payment is recorded.
type SettlementPreview struct {
	GrossTotal          float64 `json:"gross_total"`
	TotalDiscount       float64 `json:"total_discount"`
	TotalSurcharge      float64 `json:"total_surcharge"`
	NetDue              float64 `json:"net_due"`
	CreditBalance       float64 `json:"credit_balance"`
	CreditApplied       float64 `json:"credit_applied"`
	NetDueAfterCredit   float64 `json:"net_due_after_credit"`
}

// SettlementInput describes one payment covering a set of a customer's unpaid
// bills.
type SettlementInput struct {
	CustomerID string
	BillIDs    []string
	// PaymentAmount is the operator-entered amount. Nil means "accept the
	// computed net due after credit". Underpayment is not blocked.
	PaymentAmount *float64
	PaymentDate   time.Time
	PaidBy        string
}

// SettlementResult reports how a payment was reconciled.
type SettlementResult struct {
	Preview          SettlementPreview `json:"preview"`
	PaymentAmount    float64           `json:"payment_amount"`
	AdvancePayment   float64           `json:"advance_payment"`
	NewCreditBalance float64           `json:"new_credit_balance"`
	BillIDs          []string          `json:"billids"`
}

// loadSettlementBills fetches and validates the selected bills: all must exist,
// belong to the customer, and be unpaid.
func (s *Service) loadSettlementBills(ctx context.Context, customerID string, billIDs []string) ([]storage.Bill, error) {
	if len(billIDs) == 0 {
		return nil, fmt.Errorf("%w: no bills selected", ErrValidation)
	}
	bills := make([]storage.Bill, 0, len(billIDs))
	for _, id := range billIDs {
		b, err := s.store.GetBill(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load bill %s: %w", id, err)
		}
		if b == nil {
			return nil, fmt.Errorf("%w: bill %s not found", ErrValidation, id)
		}
		if b.CustomerID != customerID {
			return nil, fmt.Errorf("%w: bill %s does not belong to customer %s", ErrValidation, id, customerID)
		}
		if b.PaymentStatus != storage.BillUnpaid {
			return nil, fmt.Errorf("%w: bill %s is already paid", ErrValidation, id)
		}
		bills = append(bills, *b)
	}
	return bills, nil
}

func (s *Service) previewFor(customer *storage.Customer, bills []storage.Bill, cfg SurchargeConfig, asOf time.Time) SettlementPreview {
	var p SettlementPreview
	for _, b := range bills {
		p.GrossTotal += b.BasicAmount
		p.TotalDiscount += Discount(b.BasicAmount, customer.DiscountPercent)
		p.TotalSurcharge += cfg.Surcharge(b.BilledMonth, b.BasicAmount, asOf)
	}
	p.GrossTotal = Round2(p.GrossTotal)
	p.TotalDiscount = Round2(p.TotalDiscount)
	p.TotalSurcharge = Round2(p.TotalSurcharge)
	p.NetDue = Round2(p.GrossTotal - p.TotalDiscount + p.TotalSurcharge)
	p.CreditBalance = customer.CreditBalance
	p.CreditApplied = p.CreditBalance
	if p.NetDue < p.CreditApplied {
		p.CreditApplied = p.NetDue
	}
	p.NetDueAfterCredit = Round2(p.NetDue - p.CreditApplied)
	if p.NetDueAfterCredit < 0 {
		p.NetDueAfterCredit = 0
	}
	return p
}

// PaymentPreview computes the totals for a selection of unpaid bills as of a
// given date, without writing anything.
func (s *Service) PaymentPreview(ctx context.Context, customerID string, billIDs []string, asOf time.Time) (*SettlementPreview, error) {
	customer, err := s.store.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("load customer: %w", err)
	}
	if customer == nil {
		return nil, fmt.Errorf("%w: customer %s not found", ErrValidation, customerID)
	}
	bills, err := s.loadSettlementBills(ctx, customerID, billIDs)
	if err != nil {
		return nil, err
	}
	cfg, err := s.SurchargeConfig(ctx)
	if err != nil {
		return nil, err
	}
	p := s.previewFor(customer, bills, cfg, asOf)
	return &p, nil
}

// SettleBills converts a selection of unpaid bills into paid bills,
// distributing one payment amount and reconciling the customer's credit
// balance. All bill writes and the credit adjustment commit atomically; a
// concurrent settlement for the same customer surfaces as ErrConcurrency with
// nothing written.
func (s *Service) SettleBills(ctx context.Context, in SettlementInput) (*SettlementResult, error) {
	if in.PaidBy == "" {
		return nil, fmt.Errorf("%w: paid-by is required", ErrValidation)
	}
	if in.PaymentDate.IsZero() {
		in.PaymentDate = time.Now().UTC()
	}

	customer, err := s.store.GetCustomer(ctx, in.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("load customer: %w", err)
	}
	if customer == nil {
		return nil, fmt.Errorf("%w: customer %s not found", ErrValidation, in.CustomerID)
	}
	bills, err := s.loadSettlementBills(ctx, in.CustomerID, in.BillIDs)
	if err != nil {
		return nil, err
	}
	cfg, err := s.SurchargeConfig(ctx)
	if err != nil {
		return nil, err
	}

	preview := s.previewFor(customer, bills, cfg, in.PaymentDate)

	payment := preview.NetDueAfterCredit
	if in.PaymentAmount != nil {
		payment = *in.PaymentAmount
	}
	// Underpayment is recorded as-is; only a positive remainder becomes
	// credit.
	advance := payment - preview.NetDueAfterCredit
	positiveAdvance := advance
	if positiveAdvance < 0 {
		positiveAdvance = 0
	}

	// The payment and any advance are split evenly across the selected bills
	// rather than proportionally to each bill's net due. This mirrors the
	// cashiering behavior the operation reconciles against.
	n := float64(len(bills))
	perBillAmount := payment / n
	perBillAdvance := positiveAdvance / n

	update := storage.SettlementUpdate{
		CustomerID:     in.CustomerID,
		PaidBy:         in.PaidBy,
		DatePaid:       in.PaymentDate,
		CreditDelta:    -preview.CreditApplied + positiveAdvance,
		ExpectedCredit: customer.CreditBalance,
	}
	billIDs := make([]string, 0, len(bills))
	for _, b := range bills {
		update.Bills = append(update.Bills, storage.BillSettlement{
			BillID:          b.BillID,
			DiscountAmount:  Discount(b.BasicAmount, customer.DiscountPercent),
			SurchargeAmount: cfg.Surcharge(b.BilledMonth, b.BasicAmount, in.PaymentDate),
			TotalBillAmount: perBillAmount,
			AdvanceAmount:   perBillAdvance,
		})
		billIDs = append(billIDs, b.BillID)
	}

	if err := s.store.SettlePayment(ctx, update); err != nil {
		if errors.Is(err, storage.ErrStaleCredit) {
			return nil, fmt.Errorf("%w: %v", ErrConcurrency, err)
		}
		return nil, fmt.Errorf("settle payment: %w", err)
	}

	return &SettlementResult{
		Preview:          preview,
		PaymentAmount:    payment,
		AdvancePayment:   advance,
		NewCreditBalance: Round2(customer.CreditBalance + update.CreditDelta),
		BillIDs:          billIDs,
	}, nil
}

// Unpay reverses a recorded payment: the bill returns to Unpaid with its
// financial fields zeroed. Only the operator who recorded the payment may
// reverse it. The customer's credit balance is not restored; cashiers correct
// the ledger through a manual credit adjustment when needed.
func (s *Service) Unpay(ctx context.Context, billID, requestedBy string) error {
	bill, err := s.store.GetBill(ctx, billID)
	if err != nil {
		return fmt.Errorf("load bill: %w", err)
	}
	if bill == nil {
		return fmt.Errorf("%w: bill %s not found", ErrValidation, billID)
	}
	if bill.PaymentStatus != storage.BillPaid {
		return fmt.Errorf("%w: bill %s is not paid", ErrValidation, billID)
	}
	if bill.PaidBy == nil || *bill.PaidBy != requestedBy {
		return fmt.Errorf("%w: only the user who recorded the payment can mark it unpaid", ErrValidation)
	}
	return s.store.UnpayBill(ctx, billID)
}

// DisplayStatus derives the label shown for a bill: stored Paid/Unpaid, with
// Overdue substituted for unpaid bills past their due date. Overdue is a
// read-time label, never a stored state.
func DisplayStatus(b storage.Bill, cfg SurchargeConfig, asOf time.Time) string {
	if b.PaymentStatus == storage.BillPaid {
		return "Paid"
	}
	if asOf.After(cfg.DueDate(b.BilledMonth)) {
		return "Overdue"
	}
	return "Unpaid"
}

// OverdueBill pairs an unpaid bill with its computed due date and surcharge,
// for notice generation.
type OverdueBill struct {
	Bill      storage.Bill
	Customer  storage.Customer
	DueDate   time.Time
	Surcharge float64
}

// ListOverdueBills returns every unpaid bill whose due date has passed as of
// the given time.
func (s *Service) ListOverdueBills(ctx context.Context, asOf time.Time) ([]OverdueBill, error) {
	cfg, err := s.SurchargeConfig(ctx)
	if err != nil {
		return nil, err
	}
	// Every bill due before asOf was billed in an earlier month, so the
	// billed-month cutoff is a safe over-approximation.
	candidates, err := s.store.ListUnpaidBillsDueBefore(ctx, NormalizeMonth(asOf))
	if err != nil {
		return nil, fmt.Errorf("list unpaid bills: %w", err)
	}
	var out []OverdueBill
	for _, b := range candidates {
		due := cfg.DueDate(b.BilledMonth)
		if !asOf.After(due) {
			continue
		}
		customer, err := s.store.GetCustomer(ctx, b.CustomerID)
		if err != nil {
			return nil, fmt.Errorf("load customer %s: %w", b.CustomerID, err)
		}
		if customer == nil {
			continue
		}
		out = append(out, OverdueBill{
			Bill:      b,
			Customer:  *customer,
			DueDate:   due,
			Surcharge: cfg.Surcharge(b.BilledMonth, b.BasicAmount, asOf),
		})
	}
	return out, nil
}
