package types

import (
	"sync"
	"time"
)

// Clock 时间来源
type Clock interface {
	Now() time.Time
}

// SystemClock 系统时钟，统一返回 UTC
type SystemClock struct{}

// Now 当前时间
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ManualClock 手动推进的时钟，用于测试延迟、退避与定时触发
type ManualClock struct {
	now   time.Time
	mutex sync.RWMutex
}

// NewManualClock 创建手动时钟
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start.UTC()}
}

// Now 当前时间
func (c *ManualClock) Now() time.Time {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.now
}

// Advance 前进指定时间
func (c *ManualClock) Advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.now = c.now.Add(d)
}

// Set 设置为指定时间
func (c *ManualClock) Set(t time.Time) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.now = t.UTC()
}
