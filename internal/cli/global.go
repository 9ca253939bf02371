package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"

	"github.com/kubev2v/host-mover/internal/config"
	"github.com/kubev2v/host-mover/internal/vsphere"
	"github.com/kubev2v/host-mover/pkg/log"
)

const (
	jsonFormat = "json"
	yamlFormat = "yaml"
)

var legalOutputTypes = []string{jsonFormat, yamlFormat}

type GlobalOptions struct {
	ConfigFilePath string
	LogLevel       string

	cfg *config.Config
}

func DefaultGlobalOptions() GlobalOptions {
	return GlobalOptions{}
}

func (o *GlobalOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.ConfigFilePath, "config", "c", o.ConfigFilePath, "Path to a configuration file. Environment variables apply when omitted.")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Log level override (debug, info, warn, error).")
}

// Complete loads the configuration and initializes logging. Every command
// goes through here before validating its own flags.
func (o *GlobalOptions) Complete(cmd *cobra.Command, args []string) error {
	cfg, err := config.New(o.ConfigFilePath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}

	lvl, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parsing log level %q: %w", cfg.LogLevel, err)
	}
	if _, err := log.InitLog(lvl, cfg.LogDir); err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}

	o.cfg = cfg
	return nil
}

func (o *GlobalOptions) Validate(args []string) error {
	return nil
}

func (o *GlobalOptions) Config() *config.Config {
	return o.cfg
}

// EndpointOptions is one management-server flag group. The prefix
// distinguishes source and target on commands that take both.
type EndpointOptions struct {
	prefix string

	URL      string
	Username string
	Password string
}

func (o *EndpointOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVar(&o.URL, o.prefix+"-url", o.URL, fmt.Sprintf("URL of the %s management server.", o.prefix))
	fs.StringVar(&o.Username, o.prefix+"-username", o.Username, fmt.Sprintf("Username for the %s management server.", o.prefix))
	fs.StringVar(&o.Password, o.prefix+"-password", o.Password, fmt.Sprintf("Password for the %s management server.", o.prefix))
}

func (o *EndpointOptions) Validate() error {
	var missing []string
	if o.URL == "" {
		missing = append(missing, o.prefix+"-url")
	}
	if o.Username == "" {
		missing = append(missing, o.prefix+"-username")
	}
	if o.Password == "" {
		missing = append(missing, o.prefix+"-password")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required flags: --%s", strings.Join(missing, ", --"))
	}
	return nil
}

func (o *EndpointOptions) Connect(ctx context.Context, cfg *config.Config) (*vsphere.Connection, error) {
	return vsphere.Connect(ctx, vsphere.ConnectParams{
		Name:     o.prefix,
		URL:      o.URL,
		Username: o.Username,
		Password: o.Password,
		Insecure: cfg.Insecure,
	})
}

func validateOutputFormat(output string) error {
	if len(output) > 0 && !funk.Contains(legalOutputTypes, output) {
		return fmt.Errorf("output format must be one of %s", strings.Join(legalOutputTypes, ", "))
	}
	return nil
}
