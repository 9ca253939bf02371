package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kubev2v/host-mover/internal/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	command := NewHostMoverCommand()
	if err := command.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func NewHostMoverCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host-mover [flags] [options]",
		Short: "host-mover captures, restores and migrates managed host configuration.",
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
			os.Exit(1)
		},
	}
	cmd.AddCommand(cli.NewCmdBackup())
	cmd.AddCommand(cli.NewCmdRestore())
	cmd.AddCommand(cli.NewCmdMigrate())
	cmd.AddCommand(cli.NewCmdVersion())

	return cmd
}
