// Package actuator invokes Home Assistant services on behalf of the control
// loop. Failures are logged and reported as false, never returned.
package actuator

import (
	"smartclimate/internal/ha"

	"go.uber.org/zap"
)

// Caller is the dispatch capability the control code depends on.
type Caller interface {
	Call(domain, service string, data map[string]interface{}) bool
}

// Actuator dispatches service calls through an HA client.
type Actuator struct {
	client   ha.HAClient
	logger   *zap.Logger
	readOnly bool
	observe  func(domain, service string, ok bool)
}

// New creates an Actuator. In read-only mode calls are logged and reported
// as successful without reaching Home Assistant.
func New(client ha.HAClient, logger *zap.Logger, readOnly bool) *Actuator {
	return &Actuator{
		client:   client,
		logger:   logger.Named("actuator"),
		readOnly: readOnly,
	}
}

// OnCall registers a hook that sees the outcome of every call.
func (a *Actuator) OnCall(fn func(domain, service string, ok bool)) {
	a.observe = fn
}

// Call invokes domain.service with data.
func (a *Actuator) Call(domain, service string, data map[string]interface{}) bool {
	ok := a.call(domain, service, data)
	if a.observe != nil {
		a.observe(domain, service, ok)
	}
	return ok
}

func (a *Actuator) call(domain, service string, data map[string]interface{}) bool {
	if a.readOnly {
		a.logger.Info("READ-ONLY: would call service",
			zap.String("domain", domain),
			zap.String("service", service),
			zap.Any("data", data))
		return true
	}

	if err := a.client.CallService(domain, service, data); err != nil {
		a.logger.Error("Service call failed",
			zap.String("domain", domain),
			zap.String("service", service),
			zap.Any("data", data),
			zap.Error(err))
		return false
	}

	a.logger.Debug("Service called",
		zap.String("domain", domain),
		zap.String("service", service),
		zap.Any("data", data))
	return true
}

// Notify posts a persistent notification.
func Notify(c Caller, id, title, message string) bool {
	return c.Call("persistent_notification", "create", map[string]interface{}{
		"notification_id": id,
		"title":           title,
		"message":         message,
	})
}
