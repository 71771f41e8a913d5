package main

import (
	"context"
	"fmt"
	"sync"

	"door-service/interlock"

	"github.com/go-redis/redis/v8"
)

const (
	diagGroupName         = "door-control"
	diagEventStream       = "events:faults"
	diagEventStreamMaxLen = 1000
	diagQueueSize         = 64
)

type diagEvent struct {
	code     interlock.FaultCode
	severity interlock.FaultSeverity
	present  bool
}

// Diag mirrors the fault registry into Redis. It is registered as the
// registry's listener, so it is called on the control cycle and must not
// block: events are queued and written by a separate goroutine.
type Diag struct {
	log   *LeveledLogger
	redis *redis.Client

	faultSetKey         string
	notificationChannel string

	events chan diagEvent
	mu     sync.Mutex
	drops  int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewDiag(logger *LeveledLogger, redis *redis.Client, controllerID string) *Diag {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Diag{
		log:                 logger,
		redis:               redis,
		faultSetKey:         fmt.Sprintf("%s:%s:fault", diagGroupName, controllerID),
		notificationChannel: fmt.Sprintf("%s:%s", diagGroupName, controllerID),
		events:              make(chan diagEvent, diagQueueSize),
		ctx:                 ctx,
		cancel:              cancel,
		done:                make(chan struct{}),
	}

	// stale entries from a previous run
	if err := d.redis.Del(ctx, d.faultSetKey).Err(); err != nil {
		d.log.Warn("Failed to reset fault set: %v", err)
	}

	go d.run()
	return d
}

func (d *Diag) Destroy() {
	d.cancel()
	<-d.done
}

// FaultRaised implements interlock.FaultListener
func (d *Diag) FaultRaised(code interlock.FaultCode, severity interlock.FaultSeverity) {
	d.enqueue(diagEvent{code: code, severity: severity, present: true})
}

// FaultCleared implements interlock.FaultListener
func (d *Diag) FaultCleared(code interlock.FaultCode) {
	d.enqueue(diagEvent{code: code, present: false})
}

func (d *Diag) enqueue(ev diagEvent) {
	select {
	case d.events <- ev:
	default:
		d.mu.Lock()
		d.drops++
		d.mu.Unlock()
	}
}

func (d *Diag) run() {
	defer close(d.done)
	for {
		select {
		case <-d.ctx.Done():
			return
		case ev := <-d.events:
			if ev.present {
				d.log.Info("Fault set: code=0x%04X, severity=%s, description=%s",
					uint16(ev.code), ev.severity, interlock.Describe(ev.code))
				d.reportFaultPresent(ev.code, ev.severity)
			} else {
				d.log.Info("Fault cleared: code=0x%04X, description=%s",
					uint16(ev.code), interlock.Describe(ev.code))
				d.reportFaultAbsent(ev.code)
			}
			d.reportDrops()
		}
	}
}

func (d *Diag) reportDrops() {
	d.mu.Lock()
	drops := d.drops
	d.drops = 0
	d.mu.Unlock()

	if drops > 0 {
		d.log.Warn("Dropped %d fault notifications (queue full)", drops)
	}
}

func (d *Diag) reportFaultPresent(code interlock.FaultCode, severity interlock.FaultSeverity) {
	pipe := d.redis.Pipeline()

	pipe.SAdd(d.ctx, d.faultSetKey, uint16(code))

	pipe.XAdd(d.ctx, &redis.XAddArgs{
		Stream: diagEventStream,
		MaxLen: diagEventStreamMaxLen,
		Values: map[string]interface{}{
			"group":       diagGroupName,
			"code":        uint16(code),
			"severity":    severity.String(),
			"description": interlock.Describe(code),
		},
	})

	pipe.Publish(d.ctx, d.notificationChannel, "fault")

	if _, err := pipe.Exec(d.ctx); err != nil {
		d.log.Error("Failed to report fault present: %v", err)
	}
}

func (d *Diag) reportFaultAbsent(code interlock.FaultCode) {
	pipe := d.redis.Pipeline()

	pipe.SRem(d.ctx, d.faultSetKey, uint16(code))

	pipe.XAdd(d.ctx, &redis.XAddArgs{
		Stream: diagEventStream,
		MaxLen: diagEventStreamMaxLen,
		Values: map[string]interface{}{
			"group": diagGroupName,
			"code":  -int32(code),
		},
	})

	pipe.Publish(d.ctx, d.notificationChannel, "fault")

	if _, err := pipe.Exec(d.ctx); err != nil {
		d.log.Error("Failed to report fault absent: %v", err)
	}
}
