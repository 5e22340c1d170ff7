package chrome

import (
	"context"
	"sync"
	"time"

	"github.com/adscan/adscan/internal/common/configtypes"
)

// InstanceStatus is the lifecycle state of a pooled browser.
type InstanceStatus string

const (
	StatusStarting   InstanceStatus = "starting"
	StatusReady      InstanceStatus = "ready"
	StatusBusy       InstanceStatus = "busy"
	StatusRestarting InstanceStatus = "restarting"
	StatusDead       InstanceStatus = "dead"
)

// Instance is one managed headless browser process.
type Instance struct {
	ID     int
	Status InstanceStatus

	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCtx      context.Context
	allocCancel   context.CancelFunc

	config *Config

	startTime  time.Time
	taskCount  int
	lastUsedAt time.Time

	mu sync.Mutex
}

// PoolStats is a point-in-time snapshot of pool health.
type PoolStats struct {
	PoolSize      int
	Available     int
	ActiveTabs    int32
	TotalTasks    int64
	TotalRestarts int64
}

// TaskOptions carries the per-run parameters of a page task.
type TaskOptions struct {
	UserAgent   string
	SoftTimeout time.Duration
	HardTimeout time.Duration
	SettleWait  time.Duration

	Extraction configtypes.ExtractionConfig
	Blocklist  *Blocklist
}
