package command

import "time"

const (
	ResultSuccess   = "success"
	ResultFailure   = "failure"
	ResultDuplicate = "duplicate"
	ResultInvalid   = "invalid"
)

type Metrics interface {
	CommandDuration(cmdType, result string, d time.Duration)
	CommandProcessed(cmdType, result string)
	CommandsInflight(n int)
}

type nopMetrics struct{}

func (nopMetrics) CommandDuration(string, string, time.Duration) {}
func (nopMetrics) CommandProcessed(string, string)               {}
func (nopMetrics) CommandsInflight(int)                          {}

func NopMetrics() Metrics { return nopMetrics{} }
