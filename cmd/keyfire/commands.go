package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/RezaEskandarii/keyfire/app"
	"github.com/RezaEskandarii/keyfire/internal/state"
	"github.com/RezaEskandarii/keyfire/types"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	serveMigrate  bool
	serveNoPoll   bool
	serveNoWorker bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API together with the scheduler and the worker",
	RunE: withContainer(func(cmd *cobra.Command, c *app.Container, args []string) error {
		ctx := cmd.Context()
		if serveMigrate {
			if err := c.Migrate(ctx); err != nil {
				return err
			}
		}

		runners := []func(context.Context) error{c.RouteHandler().Serve}
		if !serveNoPoll {
			poller, err := c.Poller()
			if err != nil {
				return err
			}
			runners = append(runners, poller.Run)
		}
		if !serveNoWorker {
			consumer, err := c.Consumer()
			if err != nil {
				return err
			}
			runners = append(runners, consumer.Run)
		}

		g, gCtx := errgroup.WithContext(ctx)
		for _, run := range runners {
			g.Go(func() error { return run(gCtx) })
		}
		return g.Wait()
	}),
}

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Publish due jobs to the queue on every poll interval",
	RunE: withContainer(func(cmd *cobra.Command, c *app.Container, args []string) error {
		poller, err := c.Poller()
		if err != nil {
			return err
		}
		return poller.Run(cmd.Context())
	}),
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume queued jobs and execute them",
	RunE: withContainer(func(cmd *cobra.Command, c *app.Container, args []string) error {
		consumer, err := c.Consumer()
		if err != nil {
			return err
		}
		return consumer.Run(cmd.Context())
	}),
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database migrations",
	RunE: withContainer(func(cmd *cobra.Command, c *app.Container, args []string) error {
		if err := c.Migrate(cmd.Context()); err != nil {
			return err
		}
		c.Logger.Info("migrations applied")
		return nil
	}),
}

var (
	jobType   string
	jobCron   string
	jobData   string
	jobStatus string
	jobPage   int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Create and inspect jobs",
}

var jobsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a PENDING job from a cron expression",
	RunE: withContainer(func(cmd *cobra.Command, c *app.Container, args []string) error {
		req := types.CreateJobRequest{JobType: jobType, Cron: jobCron}
		if jobData != "" {
			req.Data = json.RawMessage(jobData)
		}
		job, err := c.JobService.CreateJob(cmd.Context(), req)
		if err != nil {
			return err
		}
		return printJSON(job)
	}),
}

var jobsDueCmd = &cobra.Command{
	Use:   "due",
	Short: "List the jobs a poll would dispatch now",
	RunE: withContainer(func(cmd *cobra.Command, c *app.Container, args []string) error {
		due, err := c.JobService.GetDueJobs(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(due)
	}),
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs page by page",
	RunE: withContainer(func(cmd *cobra.Command, c *app.Container, args []string) error {
		var status state.JobStatus
		if jobStatus != "" {
			parsed, ok := state.Parse(jobStatus)
			if !ok {
				return errors.Newf("unknown status %q", jobStatus)
			}
			status = parsed
		}
		result, err := c.JobService.ListJobs(cmd.Context(), jobPage, 20, status)
		if err != nil {
			return err
		}
		return printJSON(result)
	}),
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count jobs per status",
	RunE: withContainer(func(cmd *cobra.Command, c *app.Container, args []string) error {
		counts, err := c.JobService.CountJobsGroupedByStatus(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(counts)
	}),
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", true, "Apply migrations before starting")
	serveCmd.Flags().BoolVar(&serveNoPoll, "no-scheduler", false, "Do not poll for due jobs")
	serveCmd.Flags().BoolVar(&serveNoWorker, "no-worker", false, "Do not consume the queue")

	jobsCreateCmd.Flags().StringVarP(&jobType, "type", "t", "", "Job type (required)")
	jobsCreateCmd.Flags().StringVar(&jobCron, "cron", "", "Cron expression (required)")
	jobsCreateCmd.Flags().StringVarP(&jobData, "data", "d", "", "JSON payload")
	_ = jobsCreateCmd.MarkFlagRequired("type")
	_ = jobsCreateCmd.MarkFlagRequired("cron")

	jobsListCmd.Flags().StringVarP(&jobStatus, "status", "s", "", "Filter by status")
	jobsListCmd.Flags().IntVarP(&jobPage, "page", "p", 1, "Page number")

	jobsCmd.AddCommand(jobsCreateCmd, jobsDueCmd, jobsListCmd, jobsStatsCmd)
}

// withContainer runs fn with a wired container that is closed afterwards.
func withContainer(fn func(cmd *cobra.Command, c *app.Container, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := newContainer(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()
		return fn(cmd, c, args)
	}
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return errors.Wrap(encoder.Encode(v), "failed to write output")
}
