package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"video-compiler-service/internal/entity"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and cancel compilation jobs",
	}
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsCancelCommand(ctx))
	jobsCmd.AddCommand(newJobsFetchCommand(ctx))
	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := ctx.caller()
			if err != nil {
				return err
			}
			return ctx.withServices(cmd.Context(), func(s *services) error {
				jobs, err := s.jobs.ListJobs(cmd.Context(), caller, limit)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), jobsTable(jobs))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of jobs (at most 100)")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job with its logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := ctx.caller()
			if err != nil {
				return err
			}
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			return ctx.withServices(cmd.Context(), func(s *services) error {
				job, err := s.jobs.GetJob(cmd.Context(), caller, id)
				if err != nil {
					return err
				}
				writeJob(cmd.OutOrStdout(), job)
				return nil
			})
		},
	}
}

func newJobsCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or processing job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := ctx.caller()
			if err != nil {
				return err
			}
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			return ctx.withServices(cmd.Context(), func(s *services) error {
				job, err := s.jobs.CancelJob(cmd.Context(), caller, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s cancelled\n", job.ID)
				return nil
			})
		},
	}
}

func newJobsFetchCommand(ctx *commandContext) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "fetch <job-id>",
		Short: "Download the video of a completed job",
		Long: "Copies the artifact of a completed job from object storage. Artifacts are " +
			"stored per job type and fps, so this is the latest render at that path.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := ctx.caller()
			if err != nil {
				return err
			}
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			return ctx.withServices(cmd.Context(), func(s *services) error {
				job, err := s.jobs.GetJob(cmd.Context(), caller, id)
				if err != nil {
					return err
				}
				path := output
				if path == "" {
					path = filepath.Base(entity.ArtifactPath(job.JobType, "mp4", job.FPS))
				}
				f, err := os.Create(path)
				if err != nil {
					return err
				}
				n, err := fetchArtifact(cmd.Context(), s.store, job, f)
				if cErr := f.Close(); err == nil {
					err = cErr
				}
				if err != nil {
					_ = os.Remove(path)
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", path, n)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file (default: artifact file name)")
	return cmd
}

type artifactDownloader interface {
	Download(ctx context.Context, path string, w io.Writer) (int64, error)
}

// fetchArtifact copies the stored video of a completed job into w.
func fetchArtifact(ctx context.Context, store artifactDownloader, job *entity.VideoJob, w io.Writer) (int64, error) {
	if job.Status != entity.StatusCompleted {
		return 0, fmt.Errorf("job %s is %s; only completed jobs have a video", job.ID, job.Status)
	}
	return store.Download(ctx, entity.ArtifactPath(job.JobType, "mp4", job.FPS), w)
}

func jobsTable(jobs []*entity.VideoJob) string {
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, []string{
			j.ID.String(),
			string(j.JobType),
			string(j.RenderMode),
			string(j.Status),
			strconv.Itoa(j.Progress) + "%",
			strconv.Itoa(j.FrameCount),
			strconv.Itoa(j.FPS),
			j.CreatedAt.Local().Format(time.DateTime),
		})
	}
	return renderTable(
		[]string{"ID", "Type", "Mode", "Status", "Progress", "Frames", "FPS", "Created"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
	)
}

func writeJob(w io.Writer, j *entity.VideoJob) {
	fmt.Fprintf(w, "Job:       %s\n", j.ID)
	fmt.Fprintf(w, "Type:      %s (%s)\n", j.JobType, j.RenderMode)
	fmt.Fprintf(w, "Status:    %s, %d%%\n", j.Status, j.Progress)
	fmt.Fprintf(w, "Frames:    %d of %d at %d fps\n", j.FrameCount, j.MaxFrames, j.FPS)
	if ref := j.ExternalRef(); ref != "" {
		fmt.Fprintf(w, "Backend:   %s\n", ref)
	}
	if j.VideoPath != nil {
		fmt.Fprintf(w, "Video:     %s\n", *j.VideoPath)
	}
	if j.ErrorMessage != nil {
		fmt.Fprintf(w, "Error:     %s\n", *j.ErrorMessage)
	}
	if len(j.Logs) == 0 {
		return
	}
	fmt.Fprintln(w, "Logs:")
	for _, entry := range j.Logs {
		fmt.Fprintf(w, "  %s  %s\n", entry.Timestamp.Local().Format(time.TimeOnly), strings.TrimSpace(entry.Message))
	}
}
