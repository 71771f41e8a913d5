package main

import (
	"context"
	"fmt"
	"sync"

	"door-service/interlock"

	"github.com/go-redis/redis/v8"
)

type IPCTx struct {
	log   *LeveledLogger
	redis *redis.Client
	mu    sync.Mutex
	ctx   context.Context

	hashKey string
	channel string

	latest chan interlock.DoorStatus
	last   interlock.DoorStatus
	sent   bool
	cancel context.CancelFunc
	done   chan struct{}
}

func NewIPCTx(logger *LeveledLogger, redis *redis.Client, controllerID string) *IPCTx {
	ctx, cancel := context.WithCancel(context.Background())
	tx := &IPCTx{
		log:     logger,
		redis:   redis,
		ctx:     ctx,
		hashKey: fmt.Sprintf("door-control:%s", controllerID),
		channel: fmt.Sprintf("door-control:%s", controllerID),
		latest:  make(chan interlock.DoorStatus, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go tx.run()
	return tx
}

func (tx *IPCTx) Destroy() {
	tx.cancel()
	<-tx.done
}

// Offer hands the newest status to the writer goroutine without blocking.
// An unsent older status is replaced.
func (tx *IPCTx) Offer(status interlock.DoorStatus) {
	select {
	case tx.latest <- status:
		return
	default:
	}
	select {
	case <-tx.latest:
	default:
	}
	select {
	case tx.latest <- status:
	default:
	}
}

func (tx *IPCTx) run() {
	defer close(tx.done)
	for {
		select {
		case <-tx.ctx.Done():
			return
		case status := <-tx.latest:
			if err := tx.SendDoorStatus(status); err != nil {
				tx.log.Warn("%v", err)
			}
		}
	}
}

func onOff(b bool) string {
	return map[bool]string{true: "on", false: "off"}[b]
}

// SendDoorStatus writes the door status hash. Changes of mode, door state
// or lock are published on the controller channel.
func (tx *IPCTx) SendDoorStatus(status interlock.DoorStatus) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	left := status.Side(interlock.SideLeft)
	right := status.Side(interlock.SideRight)

	pipe := tx.redis.Pipeline()

	pipe.HSet(tx.ctx, tx.hashKey, map[string]interface{}{
		"mode":             status.Mode.String(),
		"speed":            status.Speed,
		"safe-to-open":     onOff(status.SafeToOpen),
		"should-lock":      onOff(status.ShouldLock),
		"critical-fault":   onOff(status.CriticalFault),
		"active-faults":    status.ActiveFaults,
		"can-timeout":      onOff(status.CANTimeout),
		"left:state":       left.State.String(),
		"left:position":    left.Position,
		"left:locked":      onOff(left.Locked),
		"right:state":      right.State.String(),
		"right:position":   right.Position,
		"right:locked":     onOff(right.Locked),
		"can:rx":           status.CAN.RxFrames,
		"can:tx":           status.CAN.TxFrames,
		"can:errors":       status.CAN.Errors,
		"can:dropped":      status.CAN.Dropped,
		"status:tx":        status.StatusTx,
		"status:tx-errors": status.StatusTxErrors,
	})

	for _, field := range tx.changedFields(status) {
		pipe.Publish(tx.ctx, tx.channel, field)
	}

	if _, err := pipe.Exec(tx.ctx); err != nil {
		return fmt.Errorf("failed to send door status: %v", err)
	}

	tx.last = status
	tx.sent = true
	return nil
}

func sideChanged(a, b interlock.SideStatus) bool {
	return a.State != b.State || a.Locked != b.Locked
}

func (tx *IPCTx) changedFields(status interlock.DoorStatus) []string {
	if !tx.sent {
		return []string{"mode", "left", "right"}
	}

	var fields []string
	if status.Mode != tx.last.Mode {
		fields = append(fields, "mode")
	}
	if sideChanged(status.Side(interlock.SideLeft), tx.last.Side(interlock.SideLeft)) {
		fields = append(fields, "left")
	}
	if sideChanged(status.Side(interlock.SideRight), tx.last.Side(interlock.SideRight)) {
		fields = append(fields, "right")
	}
	if status.CriticalFault != tx.last.CriticalFault {
		fields = append(fields, "critical-fault")
	}
	return fields
}
