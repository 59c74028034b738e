package application

import "time"

// Observer 运行指标观察者
type Observer interface {
	ObserveStep(outcome string, duration time.Duration)
	TriggerFired(triggerType string)
	SetQueueDepth(depth int)
}

type nopObserver struct{}

func (nopObserver) ObserveStep(string, time.Duration) {}
func (nopObserver) TriggerFired(string)               {}
func (nopObserver) SetQueueDepth(int)                 {}
