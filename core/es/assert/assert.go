// Package assert provides small named conditions for guarding aggregate
// commands, e.g.
//
//	a.Checked(assert.Positive(amount, "amount"), func() error { ... })
package assert

import (
	"errors"
	"fmt"
	"strings"
)

var ErrAssertion = errors.New("assertion failed")

// Cond is a named boolean. Check turns a false Eval into an error wrapping
// ErrAssertion.
type Cond interface {
	String() string
	Eval() bool
	Check() error
}

type (
	Func     func() error
	CondFunc func() bool
)

type named struct {
	name string
	fn   CondFunc
}

func newCond(name string, fn CondFunc) Cond { return named{name: name, fn: fn} }

func (n named) String() string { return n.name }
func (n named) Eval() bool     { return n.fn() }
func (n named) Check() error {
	if n.fn() {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrAssertion, n.name)
}

func True(v bool, name string) Cond  { return newCond(name, func() bool { return v }) }
func False(v bool, name string) Cond { return newCond(name, func() bool { return !v }) }
func Not(c Cond) Cond                { return newCond("not "+c.String(), func() bool { return !c.Eval() }) }

func Positive[N ~int | ~int64 | ~uint64 | ~float64](n N, name string) Cond {
	return newCond(name+" must be positive", func() bool { return n > 0 })
}

func NotEmpty(s string, name string) Cond {
	return newCond(name+" must not be empty", func() bool { return s != "" })
}

// all reports the first failing member on Check.
type all []Cond

// All holds if every condition holds.
func All(cs ...Cond) Cond { return all(cs) }

func (a all) String() string {
	names := make([]string, len(a))
	for i, c := range a {
		names[i] = c.String()
	}
	return strings.Join(names, " and ")
}

func (a all) Eval() bool { return a.Check() == nil }

func (a all) Check() error {
	for _, c := range a {
		if err := c.Check(); err != nil {
			return err
		}
	}
	return nil
}

func Assert(conds ...Cond) Func { return All(conds...).Check }
