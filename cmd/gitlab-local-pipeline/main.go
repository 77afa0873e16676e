// Command gitlab-local-pipeline compiles and runs a GitLab CI pipeline
// entirely on the local machine, for pre-commit validation without a
// remote runner.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/buildkite/shellwords"
	"github.com/spf13/cobra"

	"github.com/firecow/gitlab-local-pipeline/internal/engine"
	"github.com/firecow/gitlab-local-pipeline/internal/logger"
	"github.com/firecow/gitlab-local-pipeline/internal/pipeline"
	"github.com/firecow/gitlab-local-pipeline/internal/scheduler"
	"github.com/firecow/gitlab-local-pipeline/internal/sink"
	"github.com/firecow/gitlab-local-pipeline/internal/state"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootFlags struct {
	jobs               []string
	needs              bool
	home               string
	privileged         bool
	extraHosts         []string
	cwd                string
	file               string
	parallelism        int
	entrypointOverride string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	log := logger.New()

	cmd := &cobra.Command{
		Use:   "gitlab-local-pipeline",
		Short: "Run a GitLab CI pipeline locally, without a remote runner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), flags, log)
		},
	}

	registerSharedFlags(cmd, flags)
	cmd.AddCommand(newListCmd(flags, log))
	return cmd
}

func registerSharedFlags(cmd *cobra.Command, flags *rootFlags) {
	wd, _ := os.Getwd()
	cmd.PersistentFlags().StringVarP(&flags.cwd, "cwd", "c", wd, "project directory containing .gitlab-ci.yml")
	cmd.PersistentFlags().StringVarP(&flags.file, "file", "f", ".gitlab-ci.yml", "root pipeline file, relative to --cwd")
	cmd.PersistentFlags().StringSliceVar(&flags.jobs, "job", nil, "restrict the run to these job names (repeatable)")
	cmd.PersistentFlags().BoolVar(&flags.needs, "needs", false, "transitively include each --job's predecessors (needs:, or all earlier-stage jobs)")
	cmd.PersistentFlags().StringVar(&flags.home, "home", os.Getenv("HOME"), "host HOME directory (passed to the engine; not mounted into containers)")
	cmd.PersistentFlags().BoolVar(&flags.privileged, "privileged", false, "run job containers with --privileged")
	cmd.PersistentFlags().StringSliceVar(&flags.extraHosts, "extra-host", nil, "extra host:ip entries added to job containers (repeatable)")
	cmd.PersistentFlags().IntVar(&flags.parallelism, "parallelism", 0, "maximum concurrently running jobs (0 = unbounded)")
	cmd.PersistentFlags().StringVar(&flags.entrypointOverride, "entrypoint-override", "", "shell-quoted command overriding every job's container entrypoint")
}

// applyEntrypointOverride shell-splits flags.entrypointOverride into
// argv, then forces it onto every image-backed job.
func applyEntrypointOverride(cfg *pipeline.Config, raw string) error {
	if raw == "" {
		return nil
	}
	args, err := shellwords.Split(raw)
	if err != nil {
		return fmt.Errorf("gitlab-local-pipeline: parsing --entrypoint-override: %w", err)
	}
	for _, job := range cfg.Jobs {
		if job.Image != nil {
			job.Image.Entrypoint = args
		}
	}
	return nil
}

// newListCmd prints the compiled job table without executing anything,
// for pre-commit dry validation.
func newListCmd(flags *rootFlags, log logger.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the compiled job table without running anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := compile(cmd.Context(), flags)
			if err != nil {
				log.Error("%v", err)
				return err
			}
			printJobTable(cfg)
			return nil
		},
	}
}

func compile(ctx context.Context, flags *rootFlags) (*pipeline.Config, int, error) {
	store := state.NewStore(flags.cwd)
	iid, err := store.NextPipelineIID()
	if err != nil {
		return nil, 0, fmt.Errorf("gitlab-local-pipeline: %w", err)
	}

	cfg, err := pipeline.Compile(ctx, pipeline.CompileOptions{
		Cwd:         flags.cwd,
		RootFile:    flags.file,
		PipelineIID: iid,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("gitlab-local-pipeline: %w", err)
	}
	return cfg, iid, nil
}

func printJobTable(cfg *pipeline.Config) {
	for _, name := range cfg.JobOrder {
		job := cfg.Jobs[name]
		image := "-"
		if job.Image != nil {
			image = job.Image.Name
		}
		fmt.Printf("%-28s %-10s %s\n", job.Name, job.Stage, image)
	}
}

func runPipeline(ctx context.Context, flags *rootFlags, log logger.Logger) error {
	cfg, _, err := compile(ctx, flags)
	if err != nil {
		log.Error("%v", err)
		return err
	}
	if err := applyEntrypointOverride(cfg, flags.entrypointOverride); err != nil {
		log.Error("%v", err)
		return err
	}

	out := sink.New(os.Stdout, ".gitlab-ci-local/output")
	defer out.Close()

	eng := engine.New(engine.Options{
		ProjectDir: flags.cwd,
		StateDir:   ".gitlab-ci-local",
		CacheRoot:  "/tmp/gitlab-ci-local/cache",
		Sink:       out,
		Privileged: flags.privileged,
		ExtraHosts: flags.extraHosts,
		HomeDir:    flags.home,
	})

	sched := scheduler.New(cfg, eng)
	runErr := sched.Run(ctx, scheduler.Options{
		Selected:    flags.jobs,
		Needs:       flags.needs,
		Parallelism: flags.parallelism,
	})
	if runErr != nil {
		log.Error("%v", runErr)
		return runErr
	}
	log.Info("pipeline finished")
	return nil
}
