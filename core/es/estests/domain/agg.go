package domain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/codewandler/aggstore/core/es"
	"github.com/codewandler/aggstore/core/es/assert"
)

const MaxCount = 1000

type (
	TestAgg struct {
		es.BaseAggregate

		Counter        int      `json:"counter"`
		Status         string   `json:"status"`
		Milestones     []string `json:"milestones,omitempty"`
		NumIncrements  int      `json:"num_increments"`
		NumResets      int      `json:"num_resets"`
		NumTotalEvents int      `json:"num_total_events"`
	}

	Incremented struct {
		Inc int `json:"inc"`
	}

	Reset struct{}

	// StatusChanged carries the full new status, so only the last one of a
	// batch matters.
	StatusChanged struct {
		Status string `json:"status"`
	}

	// MilestoneReached is a state change that is never collapsed.
	MilestoneReached struct {
		Name string `json:"name"`
	}
)

func (e Incremented) Validate() error {
	if e.Inc <= 0 {
		return errors.New("inc must be positive")
	}
	return nil
}

func (StatusChanged) StateChange()    {}
func (MilestoneReached) StateChange() {}
func (MilestoneReached) Milestone()   {}

func (a *TestAgg) Snapshot() (data []byte, err error) { return json.Marshal(a) }
func (a *TestAgg) RestoreSnapshot(data []byte) error  { return json.Unmarshal(data, a) }
func (a *TestAgg) GetAggType() string                 { return "test_agg" }
func (a *TestAgg) Register(r es.Registrar) {
	es.RegisterEvents(r,
		es.Event[Incremented](),
		es.Event[Reset](),
		es.Event[StatusChanged](),
		es.Event[MilestoneReached](),
	)
}

func (a *TestAgg) Apply(event any) error {
	a.NumTotalEvents++
	switch e := event.(type) {
	case *Incremented:
		a.Counter += e.Inc
		a.NumIncrements++
	case *Reset:
		a.Counter = 0
		a.NumResets++
	case *StatusChanged:
		a.Status = e.Status
	case *MilestoneReached:
		a.Status = e.Name
		a.Milestones = append(a.Milestones, e.Name)
	default:
		return fmt.Errorf("unknown event: %T", event)
	}
	return nil
}

var _ es.Snapshottable = &TestAgg{}

// === Commands ===

func (a *TestAgg) Inc() error { return a.IncBy(1) }
func (a *TestAgg) IncBy(v int) error {
	return a.Checked(
		assert.All(
			assert.Positive(v, "inc"),
			assert.True(a.Counter+v <= MaxCount, fmt.Sprintf("counter must not exceed %d", MaxCount)),
		),
		es.RaiseAndApplyD(a, &Incremented{Inc: v}),
	)
}
func (a *TestAgg) Reset() error             { return es.RaiseAndApply(a, &Reset{}) }
func (a *TestAgg) SetStatus(s string) error { return es.RaiseAndApply(a, &StatusChanged{Status: s}) }
func (a *TestAgg) ReachMilestone(name string) error {
	return es.RaiseAndApply(a, &MilestoneReached{Name: name})
}

// === Read ===

func (a *TestAgg) Count() int { return a.Counter }

func NewTestAgg(id string) *TestAgg {
	a := &TestAgg{}
	a.SetID(id)
	return a
}
