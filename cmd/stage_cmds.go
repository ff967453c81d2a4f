package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/youthfin-elt/internal/config"
	"github.com/sells-group/youthfin-elt/internal/elt/stage"
	"github.com/sells-group/youthfin-elt/internal/model"
)

var (
	stageProductType string
	stagePlanPath    string
	sweepDays        int
	statusDate       string
	classifyAll      bool
)

// requirementsFor lists the settings a stage needs beyond the database.
func requirementsFor(pipeline, name string) []config.Requirement {
	if name != "raw" {
		return nil
	}
	if pipeline == stage.PipelinePolicy {
		return []config.Requirement{config.NeedPolicyAPI}
	}
	return []config.Requirement{config.NeedFinanceAPI}
}

// runSingleStage runs one registered stage with run logging.
func runSingleStage(ctx context.Context, pipeline, name string, opts stageOptions) error {
	env, err := openEnv(ctx, requirementsFor(pipeline, name)...)
	if err != nil {
		return err
	}
	defer env.Close()

	orch, err := env.orchestrator(opts)
	if err != nil {
		return err
	}
	return orch.RunStage(ctx, pipeline, name)
}

func optionsFromFlags() (stageOptions, error) {
	opts := defaultStageOptions()
	opts.PlanPath = stagePlanPath

	types, err := model.ParseProductTypes(stageProductType)
	if err != nil {
		return opts, err
	}
	opts.ProductTypes = types
	opts.SweepDays = sweepDays
	opts.ClassifyAll = classifyAll

	if statusDate != "" {
		d, err := time.ParseInLocation(time.DateOnly, statusDate, time.Local)
		if err != nil {
			return opts, eris.Wrapf(err, "invalid --date %q (want YYYY-MM-DD)", statusDate)
		}
		opts.Today = d
	}
	return opts, nil
}

// pipelineStageCmd builds "elt <name> policy|finance".
func pipelineStageCmd(name, short string) *cobra.Command {
	c := &cobra.Command{
		Use:       name + " policy|finance",
		Short:     short,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{stage.PipelinePolicy, stage.PipelineFinance},
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := optionsFromFlags()
			if err != nil {
				return err
			}
			return runSingleStage(cmd.Context(), args[0], stageName(name), opts)
		},
	}
	c.Flags().StringVar(&stageProductType, "type", "all", "finance product type: deposit, saving or all")
	return c
}

// stageName maps a command name to its registered stage name.
func stageName(cmd string) string {
	if cmd == "reconcile" {
		return "core"
	}
	return cmd
}

var currentCmd = &cobra.Command{
	Use:   "current",
	Short: "Refresh the policy current set and flag stale policies",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := optionsFromFlags()
		if err != nil {
			return err
		}
		return runSingleStage(cmd.Context(), stage.PipelinePolicy, "current", opts)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Recompute the status of current policies",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := optionsFromFlags()
		if err != nil {
			return err
		}
		return runSingleStage(cmd.Context(), stage.PipelinePolicy, "status", opts)
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify special conditions of current products",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := optionsFromFlags()
		if err != nil {
			return err
		}
		return runSingleStage(cmd.Context(), stage.PipelineFinance, "classify", opts)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&stagePlanPath, "plan", "", "pipeline plan yaml (default: embedded)")

	rootCmd.AddCommand(
		pipelineStageCmd("raw", "Fetch upstream pages into raw tables"),
		pipelineStageCmd("landing", "Normalize raw pages into staging landing tables"),
		pipelineStageCmd("reconcile", "Version staged records into core tables"),
	)

	currentCmd.Flags().IntVar(&sweepDays, "sweep-days", -1, "mark policies unseen for this many days inactive (default from config, 0 disables)")
	statusCmd.Flags().StringVar(&statusDate, "date", "", "projection date YYYY-MM-DD (default today)")
	classifyCmd.Flags().BoolVar(&classifyAll, "all", false, "reclassify every current product")

	rootCmd.AddCommand(currentCmd, statusCmd, classifyCmd)
}
