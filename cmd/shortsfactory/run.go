package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Y-Kanekoo/ai-shorts-factory/internal/pipeline"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/retrier"
)

func runCMD() *cobra.Command {
	var topic string
	var keywords []string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create a run and drive the full pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			runID, err := a.store.CreateRun(ctx, topic, keywords)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s created\n", runID)

			runErr := a.sequencer.RunAll(ctx, runID)
			printRunOutcome(cmd, ctx, a, runID)
			return runErr
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "video topic (required)")
	cmd.Flags().StringSliceVar(&keywords, "keywords", nil, "optional keywords")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

func rerunCMD() *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "rerun <run-id>",
		Short: "Re-execute a stage and everything downstream of it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			runErr := a.sequencer.Rerun(ctx, args[0], from)
			printRunOutcome(cmd, ctx, a, args[0])
			return runErr
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "stage to restart from (required)")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func statusCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show a run and its stage records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			run, ok, err := a.store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("run %s not found", args[0])
			}
			records, err := a.store.ListStageRecords(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]interface{}{"run": run, "records": records})
		},
	}
}

// stageCommands builds one subcommand per pipeline stage, executing just
// that stage against an existing run.
func stageCommands() []*cobra.Command {
	names := []string{
		pipeline.StageScript, pipeline.StageVoice, pipeline.StageImageGen,
		pipeline.StageMediaFetch, pipeline.StageCompose, pipeline.StagePublish,
	}
	cmds := make([]*cobra.Command, 0, len(names))
	for _, name := range names {
		stage := name
		var runID string
		var force bool
		cmd := &cobra.Command{
			Use:   stage,
			Short: fmt.Sprintf("Execute the %s stage for an existing run", stage),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
				defer cancel()

				a, err := buildApp(ctx, cfg)
				if err != nil {
					return err
				}
				defer a.Close()

				rec, err := a.sequencer.ExecuteStageForced(ctx, runID, stage, force)
				if err != nil {
					printStageError(cmd, stage, err)
					return err
				}
				return printJSON(cmd, rec)
			},
		}
		cmd.Flags().StringVar(&runID, "run", "", "run id (required)")
		cmd.Flags().BoolVar(&force, "force", false, "bypass the artifact cache")
		_ = cmd.MarkFlagRequired("run")
		cmds = append(cmds, cmd)
	}
	return cmds
}

func printRunOutcome(cmd *cobra.Command, ctx context.Context, a *app, runID string) {
	run, ok, err := a.store.GetRun(ctx, runID)
	if err != nil || !ok {
		return
	}
	_ = printJSON(cmd, run)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func printStageError(cmd *cobra.Command, stage string, err error) {
	class := "permanent"
	if retrier.Classify(err) == retrier.ClassTransient {
		class = "transient"
	}
	out, _ := json.Marshal(map[string]string{
		"stage": stage,
		"class": class,
		"error": err.Error(),
	})
	fmt.Fprintln(cmd.ErrOrStderr(), string(out))
}
