package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"pgroute/internal/config"
	"pgroute/internal/engine"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	readErr error
)

// Exit codes.
const (
	ExitOK        = 0
	ExitRunFailed = 1
	ExitConfig    = 2
)

var RootCmd = &cobra.Command{
	Use:   "pgroute",
	Short: "Copy PostgreSQL tables from one source into many targets",
	Long: `
PGROUTE 🐘 - PostgreSQL table router

Copies tables from a source database into one or more target databases
through a transient server-side link (dblink or postgres_fdw). Rows never
pass through this process.
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI. SIGINT and SIGTERM cancel the command context so in-flight
// copies abort, links are dropped and connections are closed before exit.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := RootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		for _, hint := range errors.GetAllHints(err) {
			fmt.Fprintln(os.Stderr, "Hint:", hint)
		}
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, errRunFailed):
		return ExitRunFailed
	case errors.Is(err, engine.ErrConfiguration):
		return ExitConfig
	default:
		return ExitRunFailed
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./pgroute.yaml)")
	RootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	RootCmd.PersistentFlags().Bool("log-json", false, "emit JSON logs")
	RootCmd.PersistentFlags().String("link-mode", "", "dblink (pull on target) or postgres_fdw (push from source)")

	viper.BindPFlag("logging.level", RootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("logging.json", RootCmd.PersistentFlags().Lookup("log-json"))
	viper.BindPFlag("link.mode", RootCmd.PersistentFlags().Lookup("link-mode"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	config.Setup(viper.GetViper(), cfgFile)
	readErr = config.Read(viper.GetViper())
	if readErr == nil && viper.ConfigFileUsed() != "" {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
