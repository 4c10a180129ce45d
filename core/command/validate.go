package command

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
)

// Validatable commands check their own payload after the struct tags.
type Validatable interface {
	Validate() error
}

// AddRule adds a business rule for commands of type C. Rules run after
// struct tag validation in registration order.
func AddRule[C Command](b *Bus, rule func(cmd C) error) {
	typ := typeFor[C]()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rules[typ] = append(b.rules[typ], func(cmd Command) error {
		c, ok := cmd.(C)
		if !ok {
			return nil
		}
		return rule(c)
	})
}

func newValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

func (b *Bus) validate(ctx context.Context, typ string, cmd Command) error {
	meta := cmd.CommandMeta()
	if meta.Timestamp.IsZero() {
		return &ValidationError{CommandType: typ, Field: "timestamp", Reason: "is zero"}
	}
	if meta.Timestamp.After(b.now().Add(b.clockSkew)) {
		return &ValidationError{CommandType: typ, Field: "timestamp", Reason: "is in the future"}
	}

	if err := b.validator.StructCtx(ctx, cmd); err != nil {
		var invalid *validator.InvalidValidationError
		if !errors.As(err, &invalid) {
			var fieldErrs validator.ValidationErrors
			if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
				fe := fieldErrs[0]
				return &ValidationError{CommandType: typ, Field: fe.Field(), Reason: "failed on " + fe.Tag(), Err: err}
			}
			return &ValidationError{CommandType: typ, Err: err}
		}
	}

	if v, ok := cmd.(Validatable); ok {
		if err := v.Validate(); err != nil {
			return &ValidationError{CommandType: typ, Err: err}
		}
	}

	b.mu.RLock()
	rules := b.rules[typ]
	b.mu.RUnlock()
	for _, rule := range rules {
		if err := rule(cmd); err != nil {
			return &ValidationError{CommandType: typ, Err: err}
		}
	}
	return nil
}
