package main

import (
	"context"
	"sync"
	"time"

	"door-service/interlock"
)

// ModeSettleDelay is how long the vehicle must stay in maintenance before
// the door controller enters diagnostic mode.
const ModeSettleDelay = time.Second + 500*time.Millisecond

// ModePolicy follows the train-level vehicle state and requests the
// matching door controller mode.
type ModePolicy struct {
	log          *LeveledLogger
	submit       func(interlock.Request) error
	vehicleState VehicleState
	known        bool
	settleTimer  *time.Timer
	settleAt     time.Time
	mu           sync.Mutex
	ctx          context.Context
}

func NewModePolicy(logger *LeveledLogger, ctx context.Context, submit func(interlock.Request) error) *ModePolicy {
	p := &ModePolicy{
		log:    logger,
		ctx:    ctx,
		submit: submit,
	}

	p.settleTimer = time.NewTimer(ModeSettleDelay)
	p.settleTimer.Stop()

	go p.timerLoop()

	return p
}

func (p *ModePolicy) Destroy() {
	if p.settleTimer != nil {
		p.settleTimer.Stop()
	}
}

func (p *ModePolicy) timerLoop() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.settleTimer.C:
			p.mu.Lock()
			// a tick left over from a cancelled settle is ignored
			if p.vehicleState == VehicleStateMaintenance && !time.Now().Before(p.settleAt) {
				p.log.Info("Vehicle settled in maintenance -> diagnostic mode")
				p.request(interlock.ModeDiagnostic)
			}
			p.mu.Unlock()
		}
	}
}

func (p *ModePolicy) request(mode interlock.Mode) {
	if p.submit == nil {
		return
	}
	if err := p.submit(interlock.ModeRequest(mode)); err != nil {
		p.log.Error("Failed to request mode %s: %v", mode, err)
	}
}

// HandleVehicleStateChange applies a new vehicle state. Maintenance only
// takes effect after ModeSettleDelay; every other state applies at once.
func (p *ModePolicy) HandleVehicleStateChange(state VehicleState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.apply(state)
}

func (p *ModePolicy) stopSettle() {
	if !p.settleTimer.Stop() {
		select {
		case <-p.settleTimer.C:
		default:
		}
	}
}

func (p *ModePolicy) apply(state VehicleState) {
	if p.known && state == p.vehicleState {
		return
	}
	p.log.Info("Vehicle state: %s -> %s", p.vehicleState, state)
	p.vehicleState = state
	p.known = true

	p.stopSettle()

	switch state {
	case VehicleStateMaintenance:
		p.log.Info("Maintenance -> awaiting settle (%.1f s)", ModeSettleDelay.Seconds())
		p.settleAt = time.Now().Add(ModeSettleDelay)
		p.settleTimer.Reset(ModeSettleDelay)
	case VehicleStateEvacuation:
		p.request(interlock.ModeEmergency)
	case VehicleStateDegraded:
		p.request(interlock.ModeDegraded)
	default:
		p.request(interlock.ModeNormal)
	}
}

func (p *ModePolicy) VehicleState() VehicleState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vehicleState
}
