package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/DankBSD/InitWare/shared/logger"
)

type cmdGlobal struct {
	flagHelp       bool
	flagVersion    bool
	flagLogFile    string
	flagLogVerbose bool
	flagLogDebug   bool

	log logger.Logger
}

// PreRun runs immediately prior to every subcommand's Run function.
func (c *cmdGlobal) PreRun(cmd *cobra.Command, args []string) error {
	log, err := logger.InitLogger(c.flagLogFile, c.flagLogDebug, c.flagLogVerbose)
	if err != nil {
		return err
	}

	c.log = log

	return nil
}

func run() error {
	globalCmd := cmdGlobal{}

	daemonCmd := cmdDaemon{global: &globalCmd}
	app := daemonCmd.Command()
	app.Use = "socketunitd"
	app.Short = "Socket activation unit engine"
	app.Long = `Description:
  socketunitd loads *.socket unit manifests, opens and holds their
  listening descriptors, and hands each one off to its companion service
  on activation — the same socket-activation contract systemd's socket
  units implement.
`
	app.SilenceUsage = true
	app.CompletionOptions = cobra.CompletionOptions{DisableDefaultCmd: true}
	app.PersistentFlags().BoolVar(&globalCmd.flagVersion, "version", false, "Print version number")
	app.PersistentFlags().BoolVarP(&globalCmd.flagHelp, "help", "h", false, "Print help")
	app.PersistentFlags().StringVar(&globalCmd.flagLogFile, "logfile", "", "Path to a log file")
	app.PersistentFlags().BoolVarP(&globalCmd.flagLogVerbose, "verbose", "v", false, "Show all information messages")
	app.PersistentFlags().BoolVarP(&globalCmd.flagLogDebug, "debug", "d", false, "Show debug messages")
	app.PersistentPreRunE = globalCmd.PreRun

	app.SetVersionTemplate("{{.Version}}\n")
	app.Version = "0.1.0"

	statusCmd := cmdStatus{global: &globalCmd}
	app.AddCommand(statusCmd.Command())

	return app.Execute()
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
