package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mtowater/waterbilling/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.MemoryStorage) {
	t.Helper()
	st := storage.NewMemoryWithTypes([]storage.CustomerType{
		{Type: "Residential", Rate1: 10, Rate2: 8},
		{Type: "Commercial", Rate1: 20, Rate2: 15},
	})
	return NewService(st), st
}

func addCustomer(t *testing.T, st *storage.MemoryStorage, c storage.Customer) {
	t.Helper()
	if c.Status == "" {
		c.Status = storage.CustomerActive
	}
	if err := st.CreateCustomer(context.Background(), c); err != nil {
		t.Fatalf("create customer: %v", err)
	}
}

func month(y int, m time.Month) time.Time {
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

func TestCreateBill(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	addCustomer(t, st, storage.Customer{CustomerID: "c1", Name: "Reyes", Type: "Residential"})

	bill, err := svc.CreateBill(ctx, CreateBillInput{
		CustomerID:      "c1",
		BilledMonth:     time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		PreviousReading: 100,
		CurrentReading:  105,
		EncodedBy:       "Ana Cruz",
	})
	if err != nil {
		t.Fatalf("CreateBill failed: %v", err)
	}
	if !bill.BilledMonth.Equal(month(2024, time.January)) {
		t.Errorf("billed month not normalized: %v", bill.BilledMonth)
	}
	if bill.Consumption != 5 {
		t.Errorf("consumption = %v, want 5", bill.Consumption)
	}
	if bill.BasicAmount != 46 {
		t.Errorf("basic = %v, want 46", bill.BasicAmount)
	}
	if bill.PaymentStatus != storage.BillUnpaid {
		t.Errorf("status = %q, want Unpaid", bill.PaymentStatus)
	}
	if bill.SurchargeAmount != 0 || bill.DiscountAmount != 0 || bill.TotalBillAmount != 0 {
		t.Errorf("financial fields must be zero before settlement: %+v", bill)
	}
}

func TestCreateBill_RejectsReadingOrder(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	addCustomer(t, st, storage.Customer{CustomerID: "c1", Name: "Reyes", Type: "Residential"})

	_, err := svc.CreateBill(ctx, CreateBillInput{
		CustomerID:      "c1",
		BilledMonth:     month(2024, time.January),
		PreviousReading: 110,
		CurrentReading:  105,
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	bills, _ := st.ListBills(ctx, "c1")
	if len(bills) != 0 {
		t.Fatalf("nothing should be written on rejection, found %d bills", len(bills))
	}
}

func TestCreateBill_RejectsDuplicateMonth(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	addCustomer(t, st, storage.Customer{CustomerID: "c1", Name: "Reyes", Type: "Residential"})

	in := CreateBillInput{
		CustomerID:      "c1",
		BilledMonth:     month(2024, time.January),
		PreviousReading: 100,
		CurrentReading:  103,
	}
	if _, err := svc.CreateBill(ctx, in); err != nil {
		t.Fatalf("first bill: %v", err)
	}
	// Same month supplied with a different day must still collide.
	in.BilledMonth = time.Date(2024, 1, 28, 0, 0, 0, 0, time.UTC)
	if _, err := svc.CreateBill(ctx, in); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for duplicate month, got %v", err)
	}
	bills, _ := st.ListBills(ctx, "c1")
	if len(bills) != 1 {
		t.Fatalf("expected 1 bill, got %d", len(bills))
	}
}

func TestCreateBill_UnknownTypeDefaultsToZeroRates(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	addCustomer(t, st, storage.Customer{CustomerID: "c1", Name: "Reyes", Type: "Industrial"})

	bill, err := svc.CreateBill(ctx, CreateBillInput{
		CustomerID:      "c1",
		BilledMonth:     month(2024, time.January),
		PreviousReading: 0,
		CurrentReading:  10,
	})
	if err != nil {
		t.Fatalf("CreateBill should not fail on unconfigured type: %v", err)
	}
	if bill.BasicAmount != 0 {
		t.Errorf("basic = %v, want 0 with fallback rates", bill.BasicAmount)
	}
}

func TestResolveRate_Miss(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.ResolveRate(context.Background(), "Industrial"); !errors.Is(err, ErrRateNotFound) {
		t.Fatalf("expected ErrRateNotFound, got %v", err)
	}
}

func TestSuggestNextBill(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	addCustomer(t, st, storage.Customer{CustomerID: "c1", Name: "Reyes", Type: "Residential"})

	if _, err := svc.CreateBill(ctx, CreateBillInput{
		CustomerID:      "c1",
		BilledMonth:     month(2024, time.March),
		PreviousReading: 50,
		CurrentReading:  57,
	}); err != nil {
		t.Fatalf("create bill: %v", err)
	}

	sugg, err := svc.SuggestNextBill(ctx, "c1", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("SuggestNextBill: %v", err)
	}
	if !sugg.BilledMonth.Equal(month(2024, time.April)) {
		t.Errorf("suggested month = %v, want 2024-04", sugg.BilledMonth)
	}
	if sugg.PreviousReading != 57 {
		t.Errorf("suggested previous reading = %v, want 57", sugg.PreviousReading)
	}
}

// settleFixture creates a customer with two unpaid bills of basic 100 and 200
// (consumption priced under the Residential schedule via direct inserts so the
// amounts are exact).
func settleFixture(t *testing.T, st *storage.MemoryStorage, credit float64) {
	t.Helper()
	ctx := context.Background()
	addCustomer(t, st, storage.Customer{
		CustomerID:    "c1",
		Name:          "Reyes",
		Type:          "Residential",
		CreditBalance: credit,
	})
	for i, basic := range []float64{100, 200} {
		b := storage.Bill{
			BillID:        string(rune('a' + i)),
			CustomerID:    "c1",
			BilledMonth:   month(2024, time.Month(i+1)),
			BasicAmount:   basic,
			PaymentStatus: storage.BillUnpaid,
			DateEncoded:   time.Now(),
		}
		if err := st.CreateBill(ctx, b); err != nil {
			t.Fatalf("seed bill: %v", err)
		}
	}
}

// paymentDate well before any due date, so no surcharge interferes with the
// conservation checks.
var earlyPayment = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

func TestSettleBills_CreditConservation(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	settleFixture(t, st, 50)

	amount := 250.0
	res, err := svc.SettleBills(ctx, SettlementInput{
		CustomerID:    "c1",
		BillIDs:       []string{"a", "b"},
		PaymentAmount: &amount,
		PaymentDate:   earlyPayment,
		PaidBy:        "Ana Cruz",
	})
	if err != nil {
		t.Fatalf("SettleBills: %v", err)
	}

	if res.Preview.NetDue != 300 {
		t.Errorf("netDue = %v, want 300", res.Preview.NetDue)
	}
	if res.Preview.CreditApplied != 50 {
		t.Errorf("creditApplied = %v, want 50", res.Preview.CreditApplied)
	}
	if res.Preview.NetDueAfterCredit != 250 {
		t.Errorf("netDueAfterCredit = %v, want 250", res.Preview.NetDueAfterCredit)
	}
	if res.AdvancePayment != 0 {
		t.Errorf("advance = %v, want 0", res.AdvancePayment)
	}
	if res.NewCreditBalance != 0 {
		t.Errorf("newCreditBalance = %v, want 0", res.NewCreditBalance)
	}

	customer, _ := st.GetCustomer(ctx, "c1")
	if customer.CreditBalance != 0 {
		t.Errorf("persisted credit = %v, want 0", customer.CreditBalance)
	}
	var sum float64
	for _, id := range []string{"a", "b"} {
		b, _ := st.GetBill(ctx, id)
		if b.PaymentStatus != storage.BillPaid {
			t.Errorf("bill %s not marked paid", id)
		}
		if b.TotalBillAmount != 125 {
			t.Errorf("bill %s total = %v, want 125 under even split", id, b.TotalBillAmount)
		}
		if b.PaidBy == nil || *b.PaidBy != "Ana Cruz" {
			t.Errorf("bill %s paidby not recorded", id)
		}
		sum += b.TotalBillAmount
	}
	if sum != 250 {
		t.Errorf("totals across bills = %v, want 250", sum)
	}
}

func TestSettleBills_OverpaymentBecomesCredit(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	settleFixture(t, st, 0)

	amount := 350.0
	res, err := svc.SettleBills(ctx, SettlementInput{
		CustomerID:    "c1",
		BillIDs:       []string{"a", "b"},
		PaymentAmount: &amount,
		PaymentDate:   earlyPayment,
		PaidBy:        "Ana Cruz",
	})
	if err != nil {
		t.Fatalf("SettleBills: %v", err)
	}
	if res.Preview.NetDue != 300 || res.Preview.CreditApplied != 0 {
		t.Errorf("preview = %+v", res.Preview)
	}
	if res.AdvancePayment != 50 {
		t.Errorf("advance = %v, want 50", res.AdvancePayment)
	}
	if res.NewCreditBalance != 50 {
		t.Errorf("newCreditBalance = %v, want 50", res.NewCreditBalance)
	}
	for _, id := range []string{"a", "b"} {
		b, _ := st.GetBill(ctx, id)
		if b.AdvanceAmount != 25 {
			t.Errorf("bill %s advance = %v, want 25", id, b.AdvanceAmount)
		}
	}
}

func TestSettleBills_UnderpaymentRecordedAsIs(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	settleFixture(t, st, 0)

	amount := 200.0
	res, err := svc.SettleBills(ctx, SettlementInput{
		CustomerID:    "c1",
		BillIDs:       []string{"a", "b"},
		PaymentAmount: &amount,
		PaymentDate:   earlyPayment,
		PaidBy:        "Ana Cruz",
	})
	if err != nil {
		t.Fatalf("underpayment must not be blocked: %v", err)
	}
	if res.AdvancePayment != -100 {
		t.Errorf("advance = %v, want -100", res.AdvancePayment)
	}
	// Negative advance never becomes negative credit.
	if res.NewCreditBalance != 0 {
		t.Errorf("newCreditBalance = %v, want 0", res.NewCreditBalance)
	}
	b, _ := st.GetBill(ctx, "a")
	if b.AdvanceAmount != 0 {
		t.Errorf("persisted advance = %v, want 0", b.AdvanceAmount)
	}
}

func TestSettleBills_DefaultsToNetDueAfterCredit(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	settleFixture(t, st, 50)

	res, err := svc.SettleBills(ctx, SettlementInput{
		CustomerID:  "c1",
		BillIDs:     []string{"a", "b"},
		PaymentDate: earlyPayment,
		PaidBy:      "Ana Cruz",
	})
	if err != nil {
		t.Fatalf("SettleBills: %v", err)
	}
	if res.PaymentAmount != 250 {
		t.Errorf("default payment = %v, want 250", res.PaymentAmount)
	}
}

func TestSettleBills_AppliesDiscountAndSurcharge(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	addCustomer(t, st, storage.Customer{
		CustomerID:      "c1",
		Name:            "Reyes",
		Type:            "Residential",
		DiscountPercent: 10,
	})
	if err := st.CreateBill(ctx, storage.Bill{
		BillID:        "a",
		CustomerID:    "c1",
		BilledMonth:   month(2024, time.January),
		BasicAmount:   1000,
		PaymentStatus: storage.BillUnpaid,
	}); err != nil {
		t.Fatalf("seed bill: %v", err)
	}

	// Paid within the grace month: 10% first surcharge, 10% discount.
	res, err := svc.SettleBills(ctx, SettlementInput{
		CustomerID:  "c1",
		BillIDs:     []string{"a"},
		PaymentDate: time.Date(2024, 2, 25, 0, 0, 0, 0, time.UTC),
		PaidBy:      "Ana Cruz",
	})
	if err != nil {
		t.Fatalf("SettleBills: %v", err)
	}
	if res.Preview.TotalDiscount != 100 {
		t.Errorf("discount = %v, want 100", res.Preview.TotalDiscount)
	}
	if res.Preview.TotalSurcharge != 100 {
		t.Errorf("surcharge = %v, want 100", res.Preview.TotalSurcharge)
	}
	if res.Preview.NetDue != 1000 {
		t.Errorf("netDue = %v, want 1000", res.Preview.NetDue)
	}
	b, _ := st.GetBill(ctx, "a")
	if b.DiscountAmount != 100 || b.SurchargeAmount != 100 {
		t.Errorf("persisted discount/surcharge = %v/%v", b.DiscountAmount, b.SurchargeAmount)
	}
}

func TestSettleBills_StaleCredit(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	settleFixture(t, st, 50)

	// Another settlement slips in between this caller's read and write.
	res1, err := svc.SettleBills(ctx, SettlementInput{
		CustomerID:  "c1",
		BillIDs:     []string{"a"},
		PaymentDate: earlyPayment,
		PaidBy:      "Ana Cruz",
	})
	if err != nil {
		t.Fatalf("first settlement: %v", err)
	}
	if res1.NewCreditBalance != 0 {
		t.Fatalf("first settlement credit = %v, want 0", res1.NewCreditBalance)
	}

	// Simulate the race by forcing storage to see a different expected
	// balance than the service read.
	if err := st.AdjustCredit(ctx, "c1", 75); err != nil {
		t.Fatalf("adjust credit: %v", err)
	}
	err = st.SettlePayment(ctx, storage.SettlementUpdate{
		CustomerID:     "c1",
		PaidBy:         "Ana Cruz",
		DatePaid:       earlyPayment,
		Bills:          []storage.BillSettlement{{BillID: "b", TotalBillAmount: 200}},
		CreditDelta:    -10,
		ExpectedCredit: 0, // stale read
	})
	if !errors.Is(err, storage.ErrStaleCredit) {
		t.Fatalf("expected ErrStaleCredit, got %v", err)
	}
	// Nothing may have been written.
	b, _ := st.GetBill(ctx, "b")
	if b.PaymentStatus != storage.BillUnpaid {
		t.Fatalf("bill b must remain unpaid after stale-credit rollback")
	}
	c, _ := st.GetCustomer(ctx, "c1")
	if c.CreditBalance != 75 {
		t.Fatalf("credit = %v, want 75 untouched", c.CreditBalance)
	}
}

func TestSettleBills_RejectsPaidAndForeignBills(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	settleFixture(t, st, 0)
	addCustomer(t, st, storage.Customer{CustomerID: "c2", Name: "Santos", Type: "Residential"})

	if _, err := svc.SettleBills(ctx, SettlementInput{
		CustomerID:  "c2",
		BillIDs:     []string{"a"},
		PaymentDate: earlyPayment,
		PaidBy:      "Ana Cruz",
	}); !errors.Is(err, ErrValidation) {
		t.Fatalf("foreign bill: expected ErrValidation, got %v", err)
	}

	if _, err := svc.SettleBills(ctx, SettlementInput{
		CustomerID:  "c1",
		BillIDs:     []string{"a"},
		PaymentDate: earlyPayment,
		PaidBy:      "Ana Cruz",
	}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if _, err := svc.SettleBills(ctx, SettlementInput{
		CustomerID:  "c1",
		BillIDs:     []string{"a"},
		PaymentDate: earlyPayment,
		PaidBy:      "Ana Cruz",
	}); !errors.Is(err, ErrValidation) {
		t.Fatalf("already-paid bill: expected ErrValidation, got %v", err)
	}
}

func TestUnpay(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	settleFixture(t, st, 0)

	if _, err := svc.SettleBills(ctx, SettlementInput{
		CustomerID:  "c1",
		BillIDs:     []string{"a"},
		PaymentDate: earlyPayment,
		PaidBy:      "Ana Cruz",
	}); err != nil {
		t.Fatalf("settle: %v", err)
	}

	// Only the recording user may reverse.
	if err := svc.Unpay(ctx, "a", "Ben Lim"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for other user, got %v", err)
	}
	if err := svc.Unpay(ctx, "a", "Ana Cruz"); err != nil {
		t.Fatalf("Unpay: %v", err)
	}
	b, _ := st.GetBill(ctx, "a")
	if b.PaymentStatus != storage.BillUnpaid {
		t.Errorf("status = %q, want Unpaid", b.PaymentStatus)
	}
	if b.SurchargeAmount != 0 || b.DiscountAmount != 0 || b.TotalBillAmount != 0 || b.AdvanceAmount != 0 {
		t.Errorf("financial fields not reset: %+v", b)
	}
	if b.PaidBy != nil || b.DatePaid != nil {
		t.Errorf("audit fields not cleared: %+v", b)
	}
}

func TestDisplayStatus(t *testing.T) {
	cfg := DefaultSurchargeConfig()
	b := storage.Bill{
		BilledMonth:   month(2024, time.January),
		PaymentStatus: storage.BillUnpaid,
	}
	if got := DisplayStatus(b, cfg, time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)); got != "Unpaid" {
		t.Errorf("before due = %q", got)
	}
	if got := DisplayStatus(b, cfg, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)); got != "Overdue" {
		t.Errorf("past due = %q", got)
	}
	b.PaymentStatus = storage.BillPaid
	if got := DisplayStatus(b, cfg, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)); got != "Paid" {
		t.Errorf("paid = %q", got)
	}
}

func TestListOverdueBills(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	settleFixture(t, st, 0) // bills for 2024-01 and 2024-02

	asOf := time.Date(2024, 2, 25, 0, 0, 0, 0, time.UTC)
	overdue, err := svc.ListOverdueBills(ctx, asOf)
	if err != nil {
		t.Fatalf("ListOverdueBills: %v", err)
	}
	// Only the January bill (due 2024-02-20) is past due on Feb 25; the
	// February bill is due 2024-03-20.
	if len(overdue) != 1 {
		t.Fatalf("overdue count = %d, want 1", len(overdue))
	}
	if !overdue[0].Bill.BilledMonth.Equal(month(2024, time.January)) {
		t.Errorf("wrong bill flagged overdue: %v", overdue[0].Bill.BilledMonth)
	}
	if overdue[0].Surcharge != 10 {
		t.Errorf("overdue surcharge = %v, want 10", overdue[0].Surcharge)
	}
}
