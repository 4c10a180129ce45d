package demo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codewandler/aggstore/core/command"
	"github.com/codewandler/aggstore/core/es"
)

type (
	OpenAccount struct {
		command.Meta
		Owner string `json:"owner" validate:"required,max=64"`
	}
	Deposit struct {
		command.Meta
		Amount int64 `json:"amount" validate:"gt=0"`
	}
	Withdraw struct {
		command.Meta
		Amount int64 `json:"amount" validate:"gt=0"`
	}
	ChangeLabel struct {
		command.Meta
		Label string `json:"label" validate:"max=128"`
	}
	CloseAccount struct {
		command.Meta
	}
)

// MaxWithdrawal caps a single withdrawal.
const MaxWithdrawal = 10_000

var errNoAccount = errors.New("account id is required")

func (c OpenAccount) Validate() error  { return requireAccount(c.Meta) }
func (c Deposit) Validate() error      { return requireAccount(c.Meta) }
func (c Withdraw) Validate() error     { return requireAccount(c.Meta) }
func (c ChangeLabel) Validate() error  { return requireAccount(c.Meta) }
func (c CloseAccount) Validate() error { return requireAccount(c.Meta) }

func requireAccount(m command.Meta) error {
	if m.AggregateID == "" {
		return errNoAccount
	}
	return nil
}

// Handlers executes account commands against a repository.
type Handlers struct {
	log      *slog.Logger
	accounts es.TypedRepository[*Account]
}

func NewHandlers(log *slog.Logger, accounts es.TypedRepository[*Account]) *Handlers {
	return &Handlers{log: log.With(slog.String("handlers", "account")), accounts: accounts}
}

// Register wires all account commands into bus.
func (h *Handlers) Register(bus *command.Bus) error {
	command.AddRule(bus, func(c Withdraw) error {
		if c.Amount > MaxWithdrawal {
			return fmt.Errorf("amount %d exceeds the limit of %d", c.Amount, MaxWithdrawal)
		}
		return nil
	})
	return errors.Join(
		command.Register(bus, h.open),
		command.Register(bus, h.deposit),
		command.Register(bus, h.withdraw),
		command.Register(bus, h.changeLabel),
		command.Register(bus, h.close),
	)
}

func (h *Handlers) open(ctx context.Context, cmd OpenAccount) error {
	a, err := h.accounts.Create(ctx, cmd.AggregateID, func(a *Account) error {
		return a.Open(cmd.Owner)
	})
	if err != nil {
		return err
	}
	h.log.Info("account opened", slog.String("id", a.GetID()), slog.String("owner", a.Owner))
	return nil
}

func (h *Handlers) deposit(ctx context.Context, cmd Deposit) error {
	return h.accounts.WithTransaction(ctx, cmd.AggregateID, func(a *Account) error {
		return a.Deposit(cmd.Amount)
	})
}

func (h *Handlers) withdraw(ctx context.Context, cmd Withdraw) error {
	return h.accounts.WithTransaction(ctx, cmd.AggregateID, func(a *Account) error {
		return a.Withdraw(cmd.Amount)
	})
}

func (h *Handlers) changeLabel(ctx context.Context, cmd ChangeLabel) error {
	return h.accounts.WithTransaction(ctx, cmd.AggregateID, func(a *Account) error {
		return a.SetLabel(cmd.Label)
	})
}

func (h *Handlers) close(ctx context.Context, cmd CloseAccount) error {
	return h.accounts.WithTransaction(ctx, cmd.AggregateID, func(a *Account) error {
		return a.Close()
	})
}
