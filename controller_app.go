package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"door-service/interlock"

	"github.com/brutella/can"
	"github.com/go-redis/redis/v8"
)

type ControllerApp struct {
	log     *LeveledLogger
	redis   *redis.Client
	bus     *can.Bus
	ipcRx   *IPCRx
	ipcTx   *IPCTx
	diag    *Diag
	policy  *ModePolicy
	ctrl    *interlock.Controller
	running bool
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// writeDefaultRedisState publishes the boot state: both doors closed and
// locked, not safe to open.
func (app *ControllerApp) writeDefaultRedisState() {
	status := interlock.DoorStatus{
		Mode:          interlock.ModeNormal,
		Speed:         interlock.SpeedUnknown,
		ShouldLock:    true,
		CriticalFault: false,
	}
	for _, side := range []interlock.Side{interlock.SideLeft, interlock.SideRight} {
		status.Sides[side] = interlock.SideStatus{State: interlock.DoorClosed, Locked: true}
	}

	if err := app.ipcTx.SendDoorStatus(status); err != nil {
		app.log.Error("Failed to send default door status: %v", err)
		return
	}

	app.log.Info("Default Redis state written")
}

func NewControllerApp(opts *Options, logger *LeveledLogger) (*ControllerApp, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &ControllerApp{
		log:    logger,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	app.redis = redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", opts.RedisServerAddr, opts.RedisServerPort),
		Password:     "",
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
	defer connectCancel()

	app.log.Info("Connecting to Redis at %s:%d...", opts.RedisServerAddr, opts.RedisServerPort)

	if err := app.redis.Ping(connectCtx).Err(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	app.log.Info("Successfully connected to Redis")

	app.ipcTx = NewIPCTx(app.log, app.redis, opts.ControllerID)
	app.writeDefaultRedisState()

	go app.redisHealthCheck()

	app.diag = NewDiag(app.log, app.redis, opts.ControllerID)
	app.log.Info("Diagnostics component initialized")

	bus, err := can.NewBusForInterfaceWithName(opts.CANDevice)
	if err != nil {
		app.Destroy()
		return nil, fmt.Errorf("failed to initialize CAN bus: %w", err)
	}
	app.bus = bus

	app.ctrl = interlock.NewController(interlock.ControllerOptions{
		Publisher:      bus,
		CyclePeriodMs:  opts.CyclePeriodMs,
		DoorTravelMs:   opts.DoorTravelMs,
		StatusPeriodMs: opts.StatusPeriodMs,
		Logger:         app.log,
		CANActuation:   true,
	})
	app.ctrl.Faults().SetListener(app.diag)
	app.ctrl.SetStatusHook(app.ipcTx.Offer)
	app.log.Info("Door controller %s initialized (cycle %d ms)", opts.ControllerID, opts.CyclePeriodMs)

	bus.Subscribe(app.ctrl.Port())

	go func() {
		if err := bus.ConnectAndPublish(); err != nil {
			app.log.Error("CAN bus publish error: %v", err)
		}
	}()

	app.policy = NewModePolicy(app.log, ctx, app.ctrl.Submit)

	app.ipcRx = NewIPCRx(app.log, app.redis, opts.ControllerID, app.policy, app.ctrl.Submit)
	if app.ipcRx == nil {
		app.Destroy()
		return nil, fmt.Errorf("failed to initialize IPC RX")
	}
	app.log.Info("IPC RX component initialized")

	app.startCycle()

	return app, nil
}

// startCycle runs the control cycle until the app context is cancelled.
// Destroy waits for it only once it has been started.
func (app *ControllerApp) startCycle() {
	app.running = true
	go func() {
		defer close(app.done)
		app.ctrl.Run(app.ctx)
	}()
}

func (app *ControllerApp) redisHealthCheck() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-app.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(app.ctx, 2*time.Second)
			if err := app.redis.Ping(ctx).Err(); err != nil {
				app.log.Warn("Redis health check failed: %v", err)
			}
			cancel()
		}
	}
}

func (app *ControllerApp) Destroy() {
	app.mu.Lock()
	defer app.mu.Unlock()

	app.log.Info("Shutting down door controller...")

	if app.cancel != nil {
		app.cancel()
	}

	if app.running {
		<-app.done
		app.log.Info("Control cycle stopped")
	}

	if app.ipcRx != nil {
		app.ipcRx.Destroy()
		app.log.Info("IPC RX shutdown complete")
	}

	if app.policy != nil {
		app.policy.Destroy()
	}

	if app.bus != nil {
		if err := app.bus.Disconnect(); err != nil {
			app.log.Error("Error disconnecting CAN bus: %v", err)
		}
	}

	if app.diag != nil {
		app.diag.Destroy()
		app.log.Info("Diagnostics shutdown complete")
	}

	if app.ipcTx != nil {
		app.ipcTx.Destroy()
		app.log.Info("IPC TX shutdown complete")
	}

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.log.Error("Error closing Redis connection: %v", err)
		} else {
			app.log.Info("Redis connection closed")
		}
	}

	app.log.Info("Door controller shutdown complete")
}
