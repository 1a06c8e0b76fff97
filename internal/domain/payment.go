package domain

import (
	"fmt"
	"strings"
	"time"
)

type PaymentStateKind string

const (
	PaymentNotStarted PaymentStateKind = "not_started"
	PaymentPartial    PaymentStateKind = "partial"
	PaymentSettled    PaymentStateKind = "settled"
)

type PartialPayment struct {
	Method string    `json:"method"`
	Amount int64     `json:"amount"`
	PaidAt time.Time `json:"paid_at"`
}

// PaymentState is the settlement ledger of an order. Only the partial and
// settled kinds carry amounts; for those AmountPaid+AmountDue equals the
// order total.
type PaymentState struct {
	Kind       PaymentStateKind `json:"kind"`
	AmountPaid int64            `json:"amount_paid"`
	AmountDue  int64            `json:"amount_due"`
	Payments   []PartialPayment `json:"payments,omitempty"`
}

func NotStartedPayment() PaymentState {
	return PaymentState{Kind: PaymentNotStarted}
}

// OpenPayment starts an empty ledger for a receivable of total.
func OpenPayment(total int64) PaymentState {
	return PaymentState{
		Kind:      PaymentPartial,
		AmountDue: total,
		Payments:  []PartialPayment{},
	}
}

// SettledPayment records a single payment covering the whole total.
func SettledPayment(method string, total int64, at time.Time) PaymentState {
	return PaymentState{
		Kind:       PaymentSettled,
		AmountPaid: total,
		Payments:   []PartialPayment{{Method: method, Amount: total, PaidAt: at}},
	}
}

func (p PaymentState) IsPopulated() bool {
	return p.Kind == PaymentPartial || p.Kind == PaymentSettled
}

// Record appends a payment and recomputes what is still due against total.
func (p PaymentState) Record(payment PartialPayment, total int64) PaymentState {
	next := p.clone()
	next.Payments = append(next.Payments, payment)
	next.AmountPaid += payment.Amount
	next.AmountDue = total - next.AmountPaid
	next.Kind = PaymentPartial
	if next.AmountDue <= 0 {
		next.Kind = PaymentSettled
	}
	return next
}

// Rebase recomputes the due amount after the order total changed.
func (p PaymentState) Rebase(total int64) PaymentState {
	if !p.IsPopulated() {
		return p
	}
	next := p.clone()
	next.AmountDue = total - next.AmountPaid
	return next
}

// Summary joins every payment as method:amount, e.g. "cash:400, upi:600".
func (p PaymentState) Summary() string {
	parts := make([]string, 0, len(p.Payments))
	for _, payment := range p.Payments {
		parts = append(parts, fmt.Sprintf("%s:%d", payment.Method, payment.Amount))
	}
	return strings.Join(parts, ", ")
}

func (p PaymentState) clone() PaymentState {
	cp := p
	if p.Payments != nil {
		cp.Payments = append(make([]PartialPayment, 0, len(p.Payments)), p.Payments...)
	}
	return cp
}
