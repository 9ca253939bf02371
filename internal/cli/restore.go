package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thoas/go-funk"

	"github.com/kubev2v/host-mover/internal/restore"
	"github.com/kubev2v/host-mover/internal/snapshot"
	"github.com/kubev2v/host-mover/internal/vsphere"
)

const (
	scopeFull        = "full"
	scopeNetworkOnly = "network-only"
)

var legalScopes = []string{scopeFull, scopeNetworkOnly}

type RestoreOptions struct {
	GlobalOptions
	Target EndpointOptions

	HostName     string
	SnapshotFile string
	Scope        string
	Output       string
}

func DefaultRestoreOptions() *RestoreOptions {
	return &RestoreOptions{
		GlobalOptions: DefaultGlobalOptions(),
		Target:        EndpointOptions{prefix: "target"},
		Scope:         scopeFull,
	}
}

func NewCmdRestore() *cobra.Command {
	o := DefaultRestoreOptions()
	cmd := &cobra.Command{
		Use:   "restore --host NAME",
		Short: "Apply a snapshot to a host, changing only what differs.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return finish(o.Output, "", err)
			}
			if err := o.Validate(args); err != nil {
				return finish(o.Output, "", err)
			}
			return o.Run(cmd.Context(), args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *RestoreOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)
	o.Target.Bind(fs)

	fs.StringVar(&o.HostName, "host", o.HostName, "Name of the host to restore.")
	fs.StringVar(&o.SnapshotFile, "snapshot", o.SnapshotFile, "Snapshot file to apply. Defaults to the host's newest snapshot in the backup directory.")
	fs.StringVar(&o.Scope, "scope", o.Scope, fmt.Sprintf("Restore scope. One of: (%s).", strings.Join(legalScopes, ", ")))
	fs.StringVarP(&o.Output, "output", "o", o.Output, "Output format. One of: (json, yaml).")
}

func (o *RestoreOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if err := o.Target.Validate(); err != nil {
		return err
	}
	if o.HostName == "" {
		return fmt.Errorf("missing required flag: --host")
	}
	if !funk.Contains(legalScopes, o.Scope) {
		return fmt.Errorf("scope must be one of %s", strings.Join(legalScopes, ", "))
	}
	return validateOutputFormat(o.Output)
}

func (o *RestoreOptions) Run(ctx context.Context, args []string) error {
	message, err := o.run(ctx)
	return finish(o.Output, message, err)
}

func (o *RestoreOptions) run(ctx context.Context) (string, error) {
	cfg := o.Config()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout.Std())
	defer cancel()

	store := snapshot.NewStore(cfg.BackupDir)
	path := o.SnapshotFile
	if path == "" {
		latest, err := store.Latest(o.HostName)
		if err != nil {
			return "", err
		}
		path = latest
	}
	snap, err := store.Load(path)
	if err != nil {
		return "", err
	}

	conn, err := o.Target.Connect(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer conn.Close(ctx)

	domain := vsphere.NewDomain(conn, vsphere.NewRetryer(cfg.Retry))
	host, err := domain.FindHost(ctx, o.HostName)
	if err != nil {
		return "", err
	}

	scope := restore.ScopeFull
	if o.Scope == scopeNetworkOnly {
		scope = restore.ScopeNetworkOnly
	}
	report, err := vsphere.NewMover().Restore(ctx, host, snap, scope)
	if err != nil {
		return "", fmt.Errorf("restoring configuration of %s: %w", o.HostName, err)
	}

	return fmt.Sprintf("restore of %s from %s finished: %d changes, %d warnings, %d skipped",
		o.HostName, path, len(report.Changes), len(report.Warnings), len(report.Skipped)), nil
}
