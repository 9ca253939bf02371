// Package lockdown queries and sets a host's remote-management restriction
// mode over a direct host connection, independent of any management domain.
// That independence is what makes the check/set work mid-migration, while the
// host is owned by no domain at all.
package lockdown

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

type Mode string

const (
	ModeDisabled Mode = "Disabled"
	ModeNormal   Mode = "Normal"
	ModeStrict   Mode = "Strict"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeDisabled, ModeNormal, ModeStrict:
		return true
	}
	return false
}

// HostAccess is a live direct connection to the host. It is always opened
// and closed within a single controller call.
type HostAccess interface {
	LockdownMode(ctx context.Context) (Mode, error)
	SetLockdownMode(ctx context.Context, mode Mode) error
	Close(ctx context.Context) error
}

// Dialer opens a direct connection to one specific host.
type Dialer interface {
	DialDirect(ctx context.Context) (HostAccess, error)
}

type Controller struct {
	dialer Dialer
	log    *zap.SugaredLogger
}

func NewController(dialer Dialer) *Controller {
	return &Controller{
		dialer: dialer,
		log:    zap.S().Named("lockdown"),
	}
}

// GetMode reads the current lockdown mode over a fresh direct connection.
func (c *Controller) GetMode(ctx context.Context) (Mode, error) {
	access, err := c.dialer.DialDirect(ctx)
	if err != nil {
		return "", fmt.Errorf("dialing host directly: %w", err)
	}
	defer c.closeQuietly(ctx, access)

	mode, err := access.LockdownMode(ctx)
	if err != nil {
		return "", fmt.Errorf("reading lockdown mode: %w", err)
	}
	if !mode.Valid() {
		return "", fmt.Errorf("host reported unknown lockdown mode %q", mode)
	}
	return mode, nil
}

// SetMode applies the given mode over a fresh direct connection. The returned
// bool reports whether a change was actually made; setting the mode the host
// already has is a no-op.
func (c *Controller) SetMode(ctx context.Context, mode Mode) (bool, error) {
	if !mode.Valid() {
		return false, fmt.Errorf("invalid lockdown mode %q", mode)
	}

	access, err := c.dialer.DialDirect(ctx)
	if err != nil {
		return false, fmt.Errorf("dialing host directly: %w", err)
	}
	defer c.closeQuietly(ctx, access)

	current, err := access.LockdownMode(ctx)
	if err != nil {
		return false, fmt.Errorf("reading lockdown mode: %w", err)
	}
	if current == mode {
		c.log.Infof("lockdown mode already %s, nothing to do", mode)
		return false, nil
	}

	if err := access.SetLockdownMode(ctx, mode); err != nil {
		return false, fmt.Errorf("changing lockdown mode from %s to %s: %w", current, mode, err)
	}
	c.log.Infof("lockdown mode changed from %s to %s", current, mode)
	return true, nil
}

func (c *Controller) closeQuietly(ctx context.Context, access HostAccess) {
	if err := access.Close(ctx); err != nil {
		c.log.Warnf("closing direct host connection: %v", err)
	}
}
