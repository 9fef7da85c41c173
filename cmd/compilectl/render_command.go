package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"video-compiler-service/internal/entity"
	"video-compiler-service/internal/render"
	"video-compiler-service/internal/service"
	"video-compiler-service/internal/worker"
)

func newRenderCommand(ctx *commandContext) *cobra.Command {
	var (
		fps, maxFrames int
		verbose        bool
	)
	cmd := &cobra.Command{
		Use:   "render <daily|archive>",
		Short: "Render a compilation video locally and wait for it",
		Long: "Creates a local-mode job and renders it in this process with the fallback " +
			"renderer. The first interrupt only warns; a second one aborts the render. " +
			"The buffered render log is printed on failure, or always with --verbose.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := ctx.caller()
			if err != nil {
				return err
			}

			runCtx, cancel := interruptContext(cmd.Context(), func() {
				fmt.Fprintln(cmd.ErrOrStderr(), "\nRender in progress; interrupt again to abort.")
			})
			defer cancel()

			return ctx.withServices(runCtx, func(s *services) error {
				id, err := s.jobs.CreateJob(runCtx, caller, service.CreateJobRequest{
					JobType:   args[0],
					MaxFrames: maxFrames,
					FPS:       fps,
					Local:     true,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s created\n", id)

				line := newProgressLine(cmd.ErrOrStderr())
				runtime := render.NewRuntimeLoader(render.DefaultSources(
					s.cfg.Local.FFmpegPath, s.cfg.Local.RuntimeURLs, s.cfg.Local.CacheDir, nil)...)
				renderer := render.NewRenderer(runtime, render.FFmpegEncoder{}, s.store, nil, render.Options{
					WorkDir:       s.cfg.Local.WorkDir,
					LogBufferSize: s.cfg.Local.LogBufferSize,
					LockFile:      s.cfg.Local.LockFile,
					FrameTimeout:  s.cfg.Local.FrameDeadline(),
				}, s.logger)
				progress := &progressRenderer{inner: renderer, line: line}
				runner := worker.NewLocalRunner(s.repo, s.content, progress, s.logger)

				job, err := s.repo.GetByID(runCtx, id)
				if err != nil {
					return err
				}
				runErr := runner.Run(runCtx, job)
				line.finish()

				final, err := s.repo.GetByID(context.WithoutCancel(runCtx), id)
				if err != nil {
					return errors.Join(runErr, err)
				}
				if verbose || runErr != nil || final.Status != entity.StatusCompleted {
					writeRenderLog(cmd.ErrOrStderr(), progress.logs)
				}
				if runErr != nil {
					if runCtx.Err() != nil {
						abortCtx := context.WithoutCancel(runCtx)
						if err := s.repo.MarkFailed(abortCtx, id, "Local render aborted by operator", "Local render aborted by operator"); err != nil &&
							!errors.Is(err, entity.ErrStaleTransition) {
							s.logger.Warn("mark aborted job failed", "job_id", id, "err", err)
						}
					}
					return runErr
				}

				if final.Status != entity.StatusCompleted {
					msg := "unknown error"
					if final.ErrorMessage != nil {
						msg = *final.ErrorMessage
					}
					return fmt.Errorf("job %s %s: %s", id, final.Status, msg)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Video: %s\n", *final.VideoPath)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&fps, "fps", 0, "Frames per second (default 10, 1-60)")
	cmd.Flags().IntVar(&maxFrames, "max-frames", 0, "Maximum frames (0 selects the job type ceiling)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print the render log even when the render succeeds")
	return cmd
}

// interruptContext cancels on the second SIGINT/SIGTERM and calls warn on the first.
func interruptContext(parent context.Context, warn func()) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigs)
		warned := false
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigs:
				if warned {
					cancel()
					return
				}
				warned = true
				warn()
			}
		}
	}()
	return ctx, cancel
}

// progressRenderer mirrors render progress onto the terminal and keeps the
// buffered render log of the last run.
type progressRenderer struct {
	inner worker.Renderer
	line  *progressLine
	logs  []string
}

func (p *progressRenderer) Render(ctx context.Context, req render.Request) (*render.Result, error) {
	next := req.OnProgress
	req.OnProgress = func(pr render.Progress) {
		p.line.update(pr)
		if next != nil {
			next(pr)
		}
	}
	res, err := p.inner.Render(ctx, req)
	if res != nil {
		p.logs = res.Logs
	}
	return res, err
}

func writeRenderLog(w io.Writer, lines []string) {
	if len(lines) == 0 {
		return
	}
	fmt.Fprintln(w, "Render log:")
	for _, line := range lines {
		fmt.Fprintln(w, "  "+line)
	}
}
