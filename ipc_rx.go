package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/go-redis/redis/v8"
)

const ipcSOHOverrideField = "soh-override"

// SOHOverride is a request to replace the reported state of health. Set is
// false when the override was removed.
type SOHOverride struct {
	SOH float64
	Set bool
}

// parseSOHOverride accepts a percentage; an empty value, "off" or "none"
// clears the override.
func parseSOHOverride(value string) (SOHOverride, error) {
	v := strings.TrimSpace(strings.ToLower(value))
	switch v {
	case "", "off", "none":
		return SOHOverride{}, nil
	}
	soh, err := strconv.ParseFloat(strings.TrimSuffix(v, "%"), 64)
	if err != nil {
		return SOHOverride{}, fmt.Errorf("invalid soh override %q", value)
	}
	if soh < 0 || soh > 100 {
		return SOHOverride{}, fmt.Errorf("soh override %.1f out of range", soh)
	}
	return SOHOverride{SOH: soh, Set: true}, nil
}

// IPCRx listens for settings written to the gateway hash. Changes are
// handed to the pump goroutine through Overrides; nothing here touches
// gateway state directly.
type IPCRx struct {
	log       *LeveledLogger
	redis     *redis.Client
	overrides chan SOHOverride
	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc

	gatewaySubscription *redis.PubSub
}

func NewIPCRx(logger *LeveledLogger, redis *redis.Client) *IPCRx {
	ctx, cancel := context.WithCancel(context.Background())

	rx := &IPCRx{
		log:       logger,
		redis:     redis,
		overrides: make(chan SOHOverride, 1),
		ctx:       ctx,
		cancel:    cancel,
	}

	rx.gatewaySubscription = rx.redis.Subscribe(rx.ctx, ipcGatewayKey)
	go rx.handleGatewaySubscription()

	rx.readInitialStates()

	return rx
}

// Overrides delivers the latest SOH override. Only the most recent value
// is kept if the consumer falls behind.
func (rx *IPCRx) Overrides() <-chan SOHOverride {
	return rx.overrides
}

func (rx *IPCRx) offer(o SOHOverride) {
	select {
	case rx.overrides <- o:
	default:
		select {
		case <-rx.overrides:
		default:
		}
		rx.overrides <- o
	}
}

func (rx *IPCRx) handleGatewaySubscription() {
	rx.log.Info("Starting gateway subscription handler")

	for {
		msg, err := rx.gatewaySubscription.Receive(rx.ctx)
		if err != nil {
			if rx.ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			// Check for closed client - panic to trigger systemd restart
			if errors.Is(err, redis.ErrClosed) {
				rx.log.Error("Redis connection lost on gateway subscription - restarting service")
				panic("Redis disconnected")
			}
			rx.log.Error("Gateway subscription error: %v", err)
			continue
		}

		switch m := msg.(type) {
		case *redis.Message:
			rx.log.Debug("Gateway message received: channel=%s, payload=%s", m.Channel, m.Payload)
			if m.Payload != ipcSOHOverrideField {
				continue
			}
			rx.readSOHOverride()

		case *redis.Subscription:
			rx.log.Debug("Gateway subscription event: %s %s", m.Channel, m.Kind)
		}
	}
}

func (rx *IPCRx) readSOHOverride() {
	value, err := rx.redis.HGet(rx.ctx, ipcGatewayKey, ipcSOHOverrideField).Result()
	if err != nil && err != redis.Nil {
		rx.log.Error("Failed to get SOH override: %v", err)
		return
	}

	o, err := parseSOHOverride(value)
	if err != nil {
		rx.log.Warn("Ignoring %s: %v", ipcSOHOverrideField, err)
		return
	}
	rx.offer(o)
}

func (rx *IPCRx) readInitialStates() {
	value, err := rx.redis.HGet(rx.ctx, ipcGatewayKey, ipcSOHOverrideField).Result()
	if err == redis.Nil {
		return
	}
	if err != nil {
		rx.log.Error("Failed to read initial SOH override: %v", err)
		return
	}
	rx.log.Info("Initial SOH override: %s", value)
	if o, err := parseSOHOverride(value); err == nil {
		rx.offer(o)
	} else {
		rx.log.Warn("Ignoring %s: %v", ipcSOHOverrideField, err)
	}
}

func (rx *IPCRx) Destroy() {
	rx.mu.Lock()
	defer rx.mu.Unlock()

	if rx.cancel != nil {
		rx.cancel()
	}

	if rx.gatewaySubscription != nil {
		rx.gatewaySubscription.Close()
	}
}
