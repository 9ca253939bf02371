// Package vsphere is the govmomi-backed implementation of the host
// management API. Everything above it (snapshot, restore, uplink, migration)
// talks to interfaces; this package is the only one that knows about SOAP.
package vsphere

import (
	"context"
	"net/url"

	"github.com/pkg/errors"
	"github.com/vmware/govmomi"
	"github.com/vmware/govmomi/find"
	"github.com/vmware/govmomi/property"
	"github.com/vmware/govmomi/vim25/soap"
	"go.uber.org/zap"
)

// ConnectParams describes one management endpoint, either a management
// server or a host contacted directly.
type ConnectParams struct {
	// Name is the logical domain name used in logs and snapshot metadata.
	Name     string
	URL      string
	Username string
	Password string
	Insecure bool
}

// Connection wraps an authenticated govmomi session.
type Connection struct {
	name   string
	client *govmomi.Client
	finder *find.Finder
	log    *zap.SugaredLogger
}

func Connect(ctx context.Context, params ConnectParams) (*Connection, error) {
	u, err := soap.ParseURL(params.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing endpoint URL %q", params.URL)
	}
	u.User = url.UserPassword(params.Username, params.Password)

	client, err := govmomi.NewClient(ctx, u, params.Insecure)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", u.Host)
	}

	return &Connection{
		name:   params.Name,
		client: client,
		finder: find.NewFinder(client.Client, false),
		log:    zap.S().Named("vsphere").With("endpoint", u.Host),
	}, nil
}

func (c *Connection) Name() string {
	return c.name
}

func (c *Connection) propertyCollector() *property.Collector {
	return property.DefaultCollector(c.client.Client)
}

// Close logs out the session. Safe to call on an already-dead session; the
// error is logged, not returned, because there is nothing a caller can do.
func (c *Connection) Close(ctx context.Context) {
	if err := c.client.Logout(ctx); err != nil {
		c.log.Warnf("logging out: %v", err)
	}
}
