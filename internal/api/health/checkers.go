package health

import (
	"context"
	"errors"
)

// Pinger is implemented by storage backends that can verify connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StorageChecker checks database connectivity.
type StorageChecker struct {
	pinger Pinger
}

// NewStorageChecker creates a database health checker.
func NewStorageChecker(p Pinger) *StorageChecker {
	return &StorageChecker{pinger: p}
}

// Name returns the checker name.
func (c *StorageChecker) Name() string {
	return "database"
}

// Check pings the database.
func (c *StorageChecker) Check(ctx context.Context) error {
	if c.pinger == nil {
		return errors.New("database not initialized")
	}
	return c.pinger.Ping(ctx)
}

// FuncChecker adapts a status function, such as an MQTT connection flag.
type FuncChecker struct {
	name string
	ok   func() bool
	msg  string
}

// NewFuncChecker creates a checker failing with msg whenever ok returns false.
func NewFuncChecker(name, msg string, ok func() bool) *FuncChecker {
	return &FuncChecker{name: name, ok: ok, msg: msg}
}

// Name returns the checker name.
func (c *FuncChecker) Name() string {
	return c.name
}

// Check reports an error when the status function is false.
func (c *FuncChecker) Check(ctx context.Context) error {
	if c.ok == nil || !c.ok() {
		return errors.New(c.msg)
	}
	return nil
}
