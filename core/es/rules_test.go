package es

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRules(t *testing.T) {
	r := NewRules()
	AddRule(r, "non_negative", func(l *ledger) error {
		if l.Balance < 0 {
			return errors.New("balance below zero")
		}
		return nil
	})
	AddRule(r, "cap", func(l *ledger) error {
		if l.Balance > 100 {
			return errors.New("balance above cap")
		}
		return nil
	})
	require.Equal(t, 2, r.Len("ledger"))

	require.NoError(t, r.Check(&ledger{Balance: 50}))

	err := r.Check(&ledger{Balance: 101})
	require.ErrorIs(t, err, ErrValidation)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "cap", ve.Field)
	require.Equal(t, "invariant violated", ve.Reason)

	err = r.Check(&ledger{Balance: -1})
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "non_negative", ve.Field)

	var none *Rules
	require.NoError(t, none.Check(&ledger{Balance: -1}))
}
