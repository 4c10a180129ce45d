package es

import (
	"sync"
)

// Rule is a named invariant check for one aggregate type.
type Rule struct {
	Name  string
	Check func(Aggregate) error
}

// Rules is a table of invariants keyed by aggregate type. It is filled at
// startup and consulted by the repository before every save.
type Rules struct {
	mu     sync.RWMutex
	byType map[string][]Rule
}

func NewRules() *Rules { return &Rules{byType: map[string][]Rule{}} }

func (r *Rules) Add(aggType string, rule Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[aggType] = append(r.byType[aggType], rule)
}

// AddRule registers a typed check for aggregates of type T.
func AddRule[T Aggregate](r *Rules, name string, check func(T) error) {
	aggType := newAggregate[T]().GetAggType()
	r.Add(aggType, Rule{
		Name: name,
		Check: func(a Aggregate) error {
			t, ok := a.(T)
			if !ok {
				return nil
			}
			return check(t)
		},
	})
}

// Check runs all rules registered for the aggregate's type in registration
// order and returns the first violation as a *ValidationError.
func (r *Rules) Check(agg Aggregate) error {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	rules := r.byType[agg.GetAggType()]
	r.mu.RUnlock()

	for _, rule := range rules {
		if err := rule.Check(agg); err != nil {
			return &ValidationError{Field: rule.Name, Reason: "invariant violated", Err: err}
		}
	}
	return nil
}

func (r *Rules) Len(aggType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byType[aggType])
}
