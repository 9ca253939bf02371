package vsphere

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/vim25/methods"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"
	"go.uber.org/zap"

	"github.com/kubev2v/host-mover/internal/migration"
	"github.com/kubev2v/host-mover/internal/uplink"
)

// HostHandle is one host as seen through a domain connection. It carries the
// read side used by snapshot capture, the mutating side used by restore, and
// the lifecycle operations used by migration, so that diffing and mutating
// always go through the same session.
type HostHandle struct {
	conn            *Connection
	host            *object.HostSystem
	name            string
	retry           *Retryer
	resolver        *uplink.Resolver
	uplinkPortGroup string
	log             *zap.SugaredLogger
}

func (h *HostHandle) Name() string {
	return h.name
}

// Domain reports the logical name of the owning management domain.
func (h *HostHandle) Domain() string {
	return h.conn.name
}

func (h *HostHandle) HostRef() types.ManagedObjectReference {
	return h.host.Reference()
}

func (h *HostHandle) HostProperties(ctx context.Context) (*mo.HostSystem, error) {
	var host mo.HostSystem
	err := h.host.Properties(ctx, h.host.Reference(), []string{"name", "runtime", "config"}, &host)
	if err != nil {
		return nil, errors.Wrapf(err, "retrieving properties of host %s", h.name)
	}
	return &host, nil
}

func (h *HostHandle) ConnectionState(ctx context.Context) (migration.ConnectionState, error) {
	var host mo.HostSystem
	err := h.host.Properties(ctx, h.host.Reference(), []string{"runtime.connectionState"}, &host)
	if err != nil {
		return "", errors.Wrapf(err, "reading connection state of host %s", h.name)
	}
	switch host.Runtime.ConnectionState {
	case types.HostSystemConnectionStateConnected:
		return migration.ConnectionStateConnected, nil
	case types.HostSystemConnectionStateDisconnected:
		return migration.ConnectionStateDisconnected, nil
	default:
		return migration.ConnectionStateNotResponding, nil
	}
}

func (h *HostHandle) InMaintenance(ctx context.Context) (bool, error) {
	var host mo.HostSystem
	err := h.host.Properties(ctx, h.host.Reference(), []string{"runtime.inMaintenanceMode"}, &host)
	if err != nil {
		return false, errors.Wrapf(err, "reading maintenance state of host %s", h.name)
	}
	return host.Runtime.InMaintenanceMode, nil
}

func (h *HostHandle) Disconnect(ctx context.Context) error {
	return h.retry.Call(ctx, fmt.Sprintf("disconnect host %s", h.name), func() error {
		task, err := h.host.Disconnect(ctx)
		if err != nil {
			return err
		}
		return task.Wait(ctx)
	})
}

func (h *HostHandle) Reconnect(ctx context.Context) error {
	return h.retry.Call(ctx, fmt.Sprintf("reconnect host %s", h.name), func() error {
		task, err := h.host.Reconnect(ctx, nil, nil)
		if err != nil {
			return err
		}
		return task.Wait(ctx)
	})
}

func (h *HostHandle) networkSystem(ctx context.Context) (*object.HostNetworkSystem, error) {
	ns, err := h.host.ConfigManager().NetworkSystem(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving network system of host %s", h.name)
	}
	return ns, nil
}

func (h *HostHandle) AddVirtualSwitch(ctx context.Context, name string, spec types.HostVirtualSwitchSpec) error {
	ns, err := h.networkSystem(ctx)
	if err != nil {
		return err
	}
	return h.retry.Call(ctx, fmt.Sprintf("add virtual switch %s", name), func() error {
		return ns.AddVirtualSwitch(ctx, name, &spec)
	})
}

func (h *HostHandle) UpdateVirtualSwitch(ctx context.Context, name string, spec types.HostVirtualSwitchSpec) error {
	ns, err := h.networkSystem(ctx)
	if err != nil {
		return err
	}
	return h.retry.Call(ctx, fmt.Sprintf("update virtual switch %s", name), func() error {
		return ns.UpdateVirtualSwitch(ctx, name, spec)
	})
}

func (h *HostHandle) AddPortGroup(ctx context.Context, spec types.HostPortGroupSpec) error {
	ns, err := h.networkSystem(ctx)
	if err != nil {
		return err
	}
	return h.retry.Call(ctx, fmt.Sprintf("add port group %s", spec.Name), func() error {
		return ns.AddPortGroup(ctx, spec)
	})
}

func (h *HostHandle) UpdatePortGroup(ctx context.Context, name string, spec types.HostPortGroupSpec) error {
	ns, err := h.networkSystem(ctx)
	if err != nil {
		return err
	}
	return h.retry.Call(ctx, fmt.Sprintf("update port group %s", name), func() error {
		return ns.UpdatePortGroup(ctx, name, spec)
	})
}

func (h *HostHandle) AddVirtualNic(ctx context.Context, portgroup string, spec types.HostVirtualNicSpec) error {
	ns, err := h.networkSystem(ctx)
	if err != nil {
		return err
	}
	return h.retry.Call(ctx, fmt.Sprintf("add vmkernel adapter on %s", portgroup), func() error {
		device, err := ns.AddVirtualNic(ctx, portgroup, spec)
		if err != nil {
			return err
		}
		h.log.Infof("created vmkernel adapter %s on %s", device, portgroup)
		return nil
	})
}

func (h *HostHandle) UpdateVirtualNic(ctx context.Context, device string, spec types.HostVirtualNicSpec) error {
	ns, err := h.networkSystem(ctx)
	if err != nil {
		return err
	}
	return h.retry.Call(ctx, fmt.Sprintf("update vmkernel adapter %s", device), func() error {
		return ns.UpdateVirtualNic(ctx, device, spec)
	})
}

func (h *HostHandle) UpdateDNSConfig(ctx context.Context, cfg types.HostDnsConfig) error {
	ns, err := h.networkSystem(ctx)
	if err != nil {
		return err
	}
	return h.retry.Call(ctx, "update dns configuration", func() error {
		return ns.UpdateDnsConfig(ctx, &cfg)
	})
}

func (h *HostHandle) CreateNasDatastore(ctx context.Context, spec types.HostNasVolumeSpec) error {
	ds, err := h.host.ConfigManager().DatastoreSystem(ctx)
	if err != nil {
		return errors.Wrapf(err, "resolving datastore system of host %s", h.name)
	}
	return h.retry.Call(ctx, fmt.Sprintf("mount nas datastore %s", spec.LocalPath), func() error {
		_, err := ds.CreateNasDatastore(ctx, spec)
		return err
	})
}

func (h *HostHandle) UpdateDateTimeConfig(ctx context.Context, cfg types.HostDateTimeConfig) error {
	dts, err := h.host.ConfigManager().DateTimeSystem(ctx)
	if err != nil {
		return errors.Wrapf(err, "resolving date/time system of host %s", h.name)
	}
	return h.retry.Call(ctx, "update date/time configuration", func() error {
		return dts.UpdateConfig(ctx, cfg)
	})
}

func (h *HostHandle) serviceSystem(ctx context.Context) (*object.HostServiceSystem, error) {
	ss, err := h.host.ConfigManager().ServiceSystem(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving service system of host %s", h.name)
	}
	return ss, nil
}

func (h *HostHandle) UpdateServicePolicy(ctx context.Context, key, policy string) error {
	ss, err := h.serviceSystem(ctx)
	if err != nil {
		return err
	}
	return h.retry.Call(ctx, fmt.Sprintf("set service %s policy %s", key, policy), func() error {
		return ss.UpdatePolicy(ctx, key, policy)
	})
}

func (h *HostHandle) StartService(ctx context.Context, key string) error {
	ss, err := h.serviceSystem(ctx)
	if err != nil {
		return err
	}
	return h.retry.Call(ctx, fmt.Sprintf("start service %s", key), func() error {
		return ss.Start(ctx, key)
	})
}

func (h *HostHandle) StopService(ctx context.Context, key string) error {
	ss, err := h.serviceSystem(ctx)
	if err != nil {
		return err
	}
	return h.retry.Call(ctx, fmt.Sprintf("stop service %s", key), func() error {
		return ss.Stop(ctx, key)
	})
}

func (h *HostHandle) EnableFirewallRuleset(ctx context.Context, key string) error {
	fs, err := h.host.ConfigManager().FirewallSystem(ctx)
	if err != nil {
		return errors.Wrapf(err, "resolving firewall system of host %s", h.name)
	}
	return h.retry.Call(ctx, fmt.Sprintf("enable firewall ruleset %s", key), func() error {
		return fs.EnableRuleset(ctx, key)
	})
}

func (h *HostHandle) DisableFirewallRuleset(ctx context.Context, key string) error {
	fs, err := h.host.ConfigManager().FirewallSystem(ctx)
	if err != nil {
		return errors.Wrapf(err, "resolving firewall system of host %s", h.name)
	}
	return h.retry.Call(ctx, fmt.Sprintf("disable firewall ruleset %s", key), func() error {
		return fs.DisableRuleset(ctx, key)
	})
}

func (h *HostHandle) UpdateAdvancedOptions(ctx context.Context, options []types.BaseOptionValue) error {
	om, err := h.host.ConfigManager().OptionManager(ctx)
	if err != nil {
		return errors.Wrapf(err, "resolving option manager of host %s", h.name)
	}
	return h.retry.Call(ctx, "update advanced options", func() error {
		return om.Update(ctx, options)
	})
}

func (h *HostHandle) SetPowerPolicy(ctx context.Context, key int32) error {
	var host mo.HostSystem
	err := h.host.Properties(ctx, h.host.Reference(), []string{"configManager.powerSystem"}, &host)
	if err != nil {
		return errors.Wrapf(err, "resolving power system of host %s", h.name)
	}
	if host.ConfigManager.PowerSystem == nil {
		return errors.Errorf("host %s has no power system", h.name)
	}
	req := types.ConfigurePowerPolicy{
		This: *host.ConfigManager.PowerSystem,
		Key:  key,
	}
	return h.retry.Call(ctx, fmt.Sprintf("set power policy %d", key), func() error {
		_, err := methods.ConfigurePowerPolicy(ctx, h.conn.client.Client, &req)
		return err
	})
}
