package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewMemoryWithTypes_PreloadsRates(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryWithTypes([]CustomerType{{Type: "Residential", Rate1: 15, Rate2: 12}})
	defer m.Close()

	list, err := m.ListCustomerTypes(ctx)
	if err != nil {
		t.Fatalf("ListCustomerTypes failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 type, got %d", len(list))
	}
	if list[0].Type != "Residential" || list[0].Rate1 != 15 || list[0].Rate2 != 12 {
		t.Fatalf("type mismatch: got %+v", list[0])
	}
}

func TestCreateBill_RejectsDuplicateMonth(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	defer m.Close()

	month := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	if err := m.CreateBill(ctx, Bill{BillID: "b1", CustomerID: "c1", BilledMonth: month, PaymentStatus: BillUnpaid}); err != nil {
		t.Fatalf("first CreateBill failed: %v", err)
	}
	err := m.CreateBill(ctx, Bill{BillID: "b2", CustomerID: "c1", BilledMonth: month, PaymentStatus: BillUnpaid})
	if !errors.Is(err, ErrDuplicateBill) {
		t.Fatalf("expected ErrDuplicateBill, got %v", err)
	}
	// A different customer can be billed for the same month.
	if err := m.CreateBill(ctx, Bill{BillID: "b3", CustomerID: "c2", BilledMonth: month, PaymentStatus: BillUnpaid}); err != nil {
		t.Fatalf("CreateBill for other customer failed: %v", err)
	}
}

func TestSettlePayment_StaleCreditLeavesNothingWritten(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	defer m.Close()

	if err := m.CreateCustomer(ctx, Customer{CustomerID: "c1", Name: "A", CreditBalance: 40}); err != nil {
		t.Fatal(err)
	}
	month := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	if err := m.CreateBill(ctx, Bill{BillID: "b1", CustomerID: "c1", BilledMonth: month, BasicAmount: 100, PaymentStatus: BillUnpaid}); err != nil {
		t.Fatal(err)
	}

	err := m.SettlePayment(ctx, SettlementUpdate{
		CustomerID:     "c1",
		PaidBy:         "cashier",
		DatePaid:       time.Now(),
		Bills:          []BillSettlement{{BillID: "b1", TotalBillAmount: 60}},
		CreditDelta:    -40,
		ExpectedCredit: 25, // balance moved under us
	})
	if !errors.Is(err, ErrStaleCredit) {
		t.Fatalf("expected ErrStaleCredit, got %v", err)
	}

	b, _ := m.GetBill(ctx, "b1")
	if b.PaymentStatus != BillUnpaid || b.TotalBillAmount != 0 {
		t.Fatalf("bill was modified despite stale credit: %+v", b)
	}
	c, _ := m.GetCustomer(ctx, "c1")
	if c.CreditBalance != 40 {
		t.Fatalf("credit balance changed despite stale credit: %v", c.CreditBalance)
	}
}

func TestSettlePayment_AllOrNothingOnBadBill(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	defer m.Close()

	if err := m.CreateCustomer(ctx, Customer{CustomerID: "c1", Name: "A"}); err != nil {
		t.Fatal(err)
	}
	month := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	if err := m.CreateBill(ctx, Bill{BillID: "b1", CustomerID: "c1", BilledMonth: month, BasicAmount: 100, PaymentStatus: BillUnpaid}); err != nil {
		t.Fatal(err)
	}

	err := m.SettlePayment(ctx, SettlementUpdate{
		CustomerID: "c1",
		PaidBy:     "cashier",
		DatePaid:   time.Now(),
		Bills: []BillSettlement{
			{BillID: "b1", TotalBillAmount: 50},
			{BillID: "missing", TotalBillAmount: 50},
		},
	})
	if err == nil {
		t.Fatal("expected error for settlement including an unknown bill")
	}
	b, _ := m.GetBill(ctx, "b1")
	if b.PaymentStatus != BillUnpaid {
		t.Fatalf("valid bill was paid despite failed settlement: %+v", b)
	}
}

func TestUnpayBill_ResetsFinancialFields(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	defer m.Close()

	if err := m.CreateCustomer(ctx, Customer{CustomerID: "c1", Name: "A"}); err != nil {
		t.Fatal(err)
	}
	month := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	if err := m.CreateBill(ctx, Bill{BillID: "b1", CustomerID: "c1", BilledMonth: month, BasicAmount: 100, PaymentStatus: BillUnpaid}); err != nil {
		t.Fatal(err)
	}
	if err := m.SettlePayment(ctx, SettlementUpdate{
		CustomerID: "c1",
		PaidBy:     "cashier",
		DatePaid:   time.Now(),
		Bills:      []BillSettlement{{BillID: "b1", DiscountAmount: 10, SurchargeAmount: 5, TotalBillAmount: 95, AdvanceAmount: 2}},
	}); err != nil {
		t.Fatalf("SettlePayment failed: %v", err)
	}

	if err := m.UnpayBill(ctx, "b1"); err != nil {
		t.Fatalf("UnpayBill failed: %v", err)
	}
	b, _ := m.GetBill(ctx, "b1")
	if b.PaymentStatus != BillUnpaid || b.PaidBy != nil || b.DatePaid != nil {
		t.Fatalf("payment fields not reset: %+v", b)
	}
	if b.DiscountAmount != 0 || b.SurchargeAmount != 0 || b.TotalBillAmount != 0 || b.AdvanceAmount != 0 {
		t.Fatalf("financial fields not zeroed: %+v", b)
	}
	if b.BasicAmount != 100 {
		t.Fatalf("basic amount should survive unpay, got %v", b.BasicAmount)
	}

	// Unpaying twice fails.
	if err := m.UnpayBill(ctx, "b1"); err == nil {
		t.Fatal("expected error when unpaying an unpaid bill")
	}
}
