// Package demo is the account domain run by the aggstore binary.
package demo

import (
	"errors"
	"fmt"

	"github.com/codewandler/aggstore/core/es"
	"github.com/codewandler/aggstore/core/es/assert"
)

var ErrInsufficientFunds = errors.New("insufficient funds")

type Account struct {
	es.BaseAggregate

	Owner   string `json:"owner"`
	Label   string `json:"label,omitempty"`
	Balance int64  `json:"balance"`
	Closed  bool   `json:"closed,omitempty"`
}

type (
	AccountOpened struct {
		Owner string `json:"owner"`
	}
	MoneyDeposited struct {
		Amount int64 `json:"amount"`
	}
	MoneyWithdrawn struct {
		Amount int64 `json:"amount"`
	}
	// LabelChanged carries the whole label; earlier changes in a batch can
	// be collapsed.
	LabelChanged struct {
		Label string `json:"label"`
	}
	AccountClosed struct{}
)

func (AccountOpened) EventType() string  { return "account.opened" }
func (MoneyDeposited) EventType() string { return "account.deposited" }
func (MoneyWithdrawn) EventType() string { return "account.withdrawn" }
func (LabelChanged) EventType() string   { return "account.label_changed" }
func (AccountClosed) EventType() string  { return "account.closed" }
func (LabelChanged) StateChange()        {}

func (e MoneyDeposited) Validate() error {
	return assert.Positive(e.Amount, "amount").Check()
}

func (e MoneyWithdrawn) Validate() error {
	return assert.Positive(e.Amount, "amount").Check()
}

func (a *Account) GetAggType() string { return "account" }

func (a *Account) Register(r es.Registrar) {
	es.RegisterEvents(r,
		es.Event[AccountOpened](),
		es.Event[MoneyDeposited](),
		es.Event[MoneyWithdrawn](),
		es.Event[LabelChanged](),
		es.Event[AccountClosed](),
	)
}

func (a *Account) Apply(event any) error {
	switch e := event.(type) {
	case *AccountOpened:
		a.Owner = e.Owner
	case *MoneyDeposited:
		a.Balance += e.Amount
	case *MoneyWithdrawn:
		a.Balance -= e.Amount
	case *LabelChanged:
		a.Label = e.Label
	case *AccountClosed:
		a.Closed = true
	default:
		return fmt.Errorf("unknown event: %T", event)
	}
	return nil
}

// Open assigns the owner of a freshly created account.
func (a *Account) Open(owner string) error {
	return a.Checked(
		assert.All(
			assert.True(a.IsCreated(), "account is created"),
			assert.NotEmpty(owner, "owner"),
			assert.True(a.Owner == "", "account is not opened yet"),
		),
		es.RaiseAndApplyD(a, &AccountOpened{Owner: owner}),
	)
}

func (a *Account) Deposit(amount int64) error {
	return a.Checked(
		assert.False(a.Closed, "account is closed"),
		es.RaiseAndApplyD(a, &MoneyDeposited{Amount: amount}),
	)
}

func (a *Account) Withdraw(amount int64) error {
	if amount > a.Balance {
		return &es.ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("balance=%d, requested=%d", a.Balance, amount),
			Err:    ErrInsufficientFunds,
		}
	}
	return a.Checked(
		assert.False(a.Closed, "account is closed"),
		es.RaiseAndApplyD(a, &MoneyWithdrawn{Amount: amount}),
	)
}

func (a *Account) SetLabel(label string) error {
	if a.Label == label {
		return nil
	}
	return es.RaiseAndApply(a, &LabelChanged{Label: label})
}

// Close closes the account. A closed account keeps its history but takes no
// more money.
func (a *Account) Close() error {
	if a.Closed {
		return nil
	}
	return es.RaiseAndApply(a, &AccountClosed{})
}

// Rules returns the invariants checked before every save of an account.
func Rules() *es.Rules {
	r := es.NewRules()
	es.AddRule(r, "balance_not_negative", func(a *Account) error {
		if a.Balance < 0 {
			return fmt.Errorf("balance %d is negative", a.Balance)
		}
		return nil
	})
	es.AddRule(r, "owner_required", func(a *Account) error {
		if a.IsCreated() && a.Owner == "" {
			return errors.New("owner is empty")
		}
		return nil
	})
	return r
}
