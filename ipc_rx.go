package main

import (
	"context"
	"fmt"
	"sync"

	"door-service/interlock"

	"github.com/go-redis/redis/v8"
)

type IPCRx struct {
	log    *LeveledLogger
	redis  *redis.Client
	policy *ModePolicy
	submit func(interlock.Request) error
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc

	commandChannel      string
	commandSubscription *redis.PubSub
	vehicleSubscription *redis.PubSub
}

func NewIPCRx(logger *LeveledLogger, redis *redis.Client, controllerID string,
	policy *ModePolicy, submit func(interlock.Request) error) *IPCRx {
	ctx, cancel := context.WithCancel(context.Background())

	rx := &IPCRx{
		log:            logger,
		redis:          redis,
		policy:         policy,
		submit:         submit,
		ctx:            ctx,
		cancel:         cancel,
		commandChannel: fmt.Sprintf("door-control:%s:command", controllerID),
	}

	if err := rx.setupSubscriptions(); err != nil {
		rx.log.Error("Failed to setup subscriptions: %v", err)
		rx.Destroy()
		return nil
	}

	rx.readInitialStates()

	return rx
}

func (rx *IPCRx) setupSubscriptions() error {
	rx.commandSubscription = rx.redis.Subscribe(rx.ctx, rx.commandChannel)
	if _, err := rx.commandSubscription.Receive(rx.ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", rx.commandChannel, err)
	}
	go rx.handleCommandSubscription()

	rx.vehicleSubscription = rx.redis.Subscribe(rx.ctx, "vehicle")
	go rx.handleVehicleSubscription()

	return nil
}

func (rx *IPCRx) handleCommandSubscription() {
	rx.log.Info("Starting command subscription handler on %s", rx.commandChannel)

	ch := rx.commandSubscription.Channel()
	for {
		select {
		case <-rx.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				if rx.ctx.Err() != nil {
					return
				}
				rx.log.Error("Redis connection lost on command subscription - restarting service")
				panic("Redis disconnected")
			}
			rx.handleCommand(msg.Payload)
		}
	}
}

func (rx *IPCRx) handleCommand(payload string) {
	req, err := ParseIPCCommand(payload)
	if err != nil {
		rx.log.Warn("Ignoring command: %v", err)
		return
	}
	rx.log.Info("Door command received: %s", payload)

	if err := rx.submit(req); err != nil {
		rx.log.Error("Failed to queue command %s: %v", payload, err)
	}
}

func (rx *IPCRx) handleVehicleSubscription() {
	rx.log.Info("Starting vehicle subscription handler")

	for {
		msg, err := rx.vehicleSubscription.Receive(rx.ctx)
		if err != nil {
			if err == context.Canceled {
				return
			}
			// Check for closed client - panic to trigger systemd restart
			if err.Error() == "redis: client is closed" {
				rx.log.Error("Redis connection lost on vehicle subscription - restarting service")
				panic("Redis disconnected")
			}
			rx.log.Error("Vehicle subscription error: %v", err)
			continue
		}

		switch m := msg.(type) {
		case *redis.Message:
			rx.log.Debug("Vehicle message received: channel=%s, payload=%s", m.Channel, m.Payload)

			state, err := rx.redis.HGet(rx.ctx, "vehicle", "state").Result()
			if err != nil && err != redis.Nil {
				rx.log.Error("Failed to get vehicle state: %v", err)
				continue
			}

			if err != redis.Nil {
				rx.policy.HandleVehicleStateChange(ParseVehicleState(state))
			}

		case *redis.Subscription:
			rx.log.Debug("Vehicle subscription event: %s %s", m.Channel, m.Kind)
		}
	}
}

func (rx *IPCRx) readInitialStates() {
	state, err := rx.redis.HGet(rx.ctx, "vehicle", "state").Result()
	if err != nil {
		if err != redis.Nil {
			rx.log.Error("Failed to read initial vehicle state: %v", err)
		}
		return
	}
	rx.log.Info("Initial vehicle state: %s", state)
	rx.policy.HandleVehicleStateChange(ParseVehicleState(state))
}

func (rx *IPCRx) Destroy() {
	rx.mu.Lock()
	defer rx.mu.Unlock()

	if rx.cancel != nil {
		rx.cancel()
	}

	if rx.commandSubscription != nil {
		rx.commandSubscription.Close()
	}

	if rx.vehicleSubscription != nil {
		rx.vehicleSubscription.Close()
	}
}
