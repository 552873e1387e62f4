package cmd

import (
	"os"

	"pgroute/internal/engine"
	"pgroute/internal/pipeline"
	"pgroute/internal/report"
	"pgroute/internal/route"

	"github.com/cockroachdb/errors"
	"github.com/gosuri/uiprogress"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var errRunFailed = errors.New("run failed")

var (
	dryRun     bool
	noProgress bool
	tables     []string
	targets    []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Copy every routed table into its targets",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer log.Sync()

		policy, err := engine.ParseFailPolicy(cfg.Policy.FailOn)
		if err != nil {
			return errors.Mark(err, engine.ErrConfiguration)
		}

		opts := pipeline.Options{
			DryRun:  dryRun,
			Targets: targets,
			Tables:  tables,
			Sinks:   []report.Sink{report.ConsoleSink{Out: os.Stdout}},
		}

		// progress bar, one tick per (target, table)
		var bar *uiprogress.Bar
		if !noProgress && !cfg.Logging.JSON {
			opts.OnPlan = func(p route.Plan) {
				uiprogress.Start()
				bar = uiprogress.AddBar(p.JobCount()).AppendCompleted().PrependElapsed()
				bar.PrependFunc(func(b *uiprogress.Bar) string {
					return "Copying: "
				})
			}
			opts.Hooks.OnResult = func(engine.CopyResult) {
				bar.Incr()
			}
		}

		rep, runErr := pipeline.Run(cmd.Context(), cfg, log, opts)
		if bar != nil {
			uiprogress.Stop()
		}
		if runErr != nil {
			return runErr
		}

		if rep.Failed(policy) {
			s := rep.Summary()
			return errors.Mark(
				errors.Newf("%d of %d copies failed, %d with warnings (fail_on=%s)", s.Error, s.Total, s.Warning, policy),
				errRunFailed)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show the statements without copying")
	runCmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable the progress bar")
	runCmd.Flags().StringSliceVar(&tables, "tables", nil, "only copy these tables")
	runCmd.Flags().StringSliceVar(&targets, "targets", nil, "only copy into these targets")
	runCmd.Flags().String("fail-on", "", "error, warning or never")
	runCmd.Flags().String("on-existing", "", "append or skip when a target table already has rows")

	viper.BindPFlag("policy.fail_on", runCmd.Flags().Lookup("fail-on"))
	viper.BindPFlag("policy.on_existing", runCmd.Flags().Lookup("on-existing"))

	RootCmd.AddCommand(runCmd)
}
