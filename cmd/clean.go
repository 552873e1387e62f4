package cmd

import (
	"fmt"
	"sort"

	"pgroute/internal/pipeline"

	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Drop linking servers left behind by interrupted runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer log.Sync()

		dropped, cleanErr := pipeline.Clean(cmd.Context(), cfg, log, pipeline.Options{Targets: targets})

		names := make([]string, 0, len(dropped))
		for db := range dropped {
			names = append(names, db)
		}
		sort.Strings(names)
		for _, db := range names {
			if len(dropped[db]) == 0 {
				fmt.Printf("[✓] %-20s : nothing to clean\n", db)
				continue
			}
			for _, srv := range dropped[db] {
				fmt.Printf("[✓] %-20s : dropped %s\n", db, srv)
			}
		}
		if cleanErr != nil {
			return cleanErr
		}
		fmt.Println("Links Cleaned Successfully!")
		return nil
	},
}

func init() {
	cleanCmd.Flags().StringSliceVar(&targets, "targets", nil, "only clean these targets (dblink mode)")
	RootCmd.AddCommand(cleanCmd)
}
