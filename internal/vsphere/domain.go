package vsphere

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/task"
	"github.com/vmware/govmomi/view"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"
	"go.uber.org/zap"

	"github.com/kubev2v/host-mover/internal/migration"
	"github.com/kubev2v/host-mover/internal/uplink"
)

const resolverCacheSize = 32

// Domain is one management server with its host inventory. A migration run
// holds two of these, source and target, over separate sessions.
type Domain struct {
	conn            *Connection
	retry           *Retryer
	resolver        *uplink.Resolver
	uplinkPortGroup string
	log             *zap.SugaredLogger
}

type DomainOption func(*Domain)

// WithUplinkPortGroup overrides the port group that uplink ports are placed
// in when a host joins one of this domain's distributed switches. The default
// is the switch's own uplink port group.
func WithUplinkPortGroup(name string) DomainOption {
	return func(d *Domain) { d.uplinkPortGroup = name }
}

func NewDomain(conn *Connection, retryer *Retryer, opts ...DomainOption) *Domain {
	d := &Domain{
		conn:     conn,
		retry:    retryer,
		resolver: uplink.NewResolver(uplink.NewCache(resolverCacheSize)),
		log:      zap.S().Named("domain").With("domain", conn.Name()),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Domain) Name() string {
	return d.conn.name
}

// FindHost locates a host anywhere in the domain's inventory by name,
// matched case-insensitively because inventory names are hostnames. Returns
// migration.ErrHostNotFound when absent.
func (d *Domain) FindHost(ctx context.Context, name string) (migration.Host, error) {
	m := view.NewManager(d.conn.client.Client)
	v, err := m.CreateContainerView(ctx, d.conn.client.ServiceContent.RootFolder, []string{"HostSystem"}, true)
	if err != nil {
		return nil, errors.Wrap(err, "creating host view")
	}
	defer func() {
		_ = v.Destroy(ctx)
	}()

	var hosts []mo.HostSystem
	if err := v.Retrieve(ctx, []string{"HostSystem"}, []string{"name"}, &hosts); err != nil {
		return nil, errors.Wrap(err, "listing hosts")
	}

	for _, host := range hosts {
		if strings.EqualFold(host.Name, name) {
			return d.handleFor(host.Self, host.Name), nil
		}
	}
	return nil, fmt.Errorf("host %s in domain %s: %w", name, d.conn.name, migration.ErrHostNotFound)
}

// RegisterHost adds the host to the given cluster as a connected member. A
// certificate verification fault is answered by retrying once with the
// thumbprint the server reported.
func (d *Domain) RegisterHost(ctx context.Context, spec migration.RegisterSpec) (migration.Host, error) {
	finder := d.conn.finder
	dc, err := finder.Datacenter(ctx, spec.Datacenter)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving datacenter %s", spec.Datacenter)
	}
	finder.SetDatacenter(dc)

	cluster, err := finder.ClusterComputeResource(ctx, spec.Cluster)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving cluster %s", spec.Cluster)
	}

	cnx := types.HostConnectSpec{
		HostName: spec.HostName,
		UserName: spec.Username,
		Password: spec.Password,
	}
	err = d.retry.Call(ctx, fmt.Sprintf("add host %s to cluster %s", spec.HostName, spec.Cluster), func() error {
		return addHost(ctx, cluster, cnx)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "adding host %s to cluster %s", spec.HostName, spec.Cluster)
	}

	d.log.Infof("host %s registered in cluster %s", spec.HostName, spec.Cluster)
	return d.FindHost(ctx, spec.HostName)
}

func (d *Domain) handleFor(ref types.ManagedObjectReference, name string) *HostHandle {
	return &HostHandle{
		conn:            d.conn,
		host:            object.NewHostSystem(d.conn.client.Client, ref),
		name:            name,
		retry:           d.retry,
		resolver:        d.resolver,
		uplinkPortGroup: d.uplinkPortGroup,
		log:             d.log.With("host", name),
	}
}

func addHost(ctx context.Context, cluster *object.ClusterComputeResource, cnx types.HostConnectSpec) error {
	run := func() error {
		t, err := cluster.AddHost(ctx, cnx, true, nil, nil)
		if err != nil {
			return err
		}
		return t.Wait(ctx)
	}

	err := run()
	if err == nil {
		return nil
	}
	thumbprint, ok := sslThumbprint(err)
	if !ok {
		return err
	}
	cnx.SslThumbprint = thumbprint
	return run()
}

func sslThumbprint(err error) (string, bool) {
	var taskErr task.Error
	if !stderrors.As(err, &taskErr) || taskErr.LocalizedMethodFault == nil {
		return "", false
	}
	if fault, ok := taskErr.LocalizedMethodFault.Fault.(*types.SSLVerifyFault); ok {
		return fault.Thumbprint, true
	}
	return "", false
}
