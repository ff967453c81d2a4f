package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/youthfin-elt/internal/config"
	"github.com/sells-group/youthfin-elt/internal/elt/stage"
)

var (
	runFrom string
	runOnly []string
)

var runCmd = &cobra.Command{
	Use:       "run policy|finance",
	Short:     "Run a pipeline's stages in order",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{stage.PipelinePolicy, stage.PipelineFinance},
	RunE: func(cmd *cobra.Command, args []string) error {
		pipeline := args[0]
		opts, err := optionsFromFlags()
		if err != nil {
			return err
		}

		req := config.NeedFinanceAPI
		if pipeline == stage.PipelinePolicy {
			req = config.NeedPolicyAPI
		}
		env, err := openEnv(cmd.Context(), req)
		if err != nil {
			return err
		}
		defer env.Close()

		orch, err := env.orchestrator(opts)
		if err != nil {
			return err
		}
		return orch.Run(cmd.Context(), pipeline, stage.RunOpts{From: runFrom, Only: runOnly})
	},
}

func init() {
	runCmd.Flags().StringVar(&runFrom, "from", "", "start at this stage")
	runCmd.Flags().StringSliceVar(&runOnly, "only", nil, "run only these stages (comma-separated)")
	runCmd.Flags().StringVar(&stageProductType, "type", "all", "finance product type: deposit, saving or all")
	runCmd.Flags().IntVar(&sweepDays, "sweep-days", -1, "override policy.stale_after_days for the current stage")
	runCmd.Flags().StringVar(&statusDate, "date", "", "status projection date YYYY-MM-DD")
	runCmd.Flags().BoolVar(&classifyAll, "classify-all", false, "reclassify every current product")
	rootCmd.AddCommand(runCmd)
}
