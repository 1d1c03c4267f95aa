package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cwygoda/streamrelay/internal/adapter/encoder"
	httpAdapter "github.com/cwygoda/streamrelay/internal/adapter/http"
	"github.com/cwygoda/streamrelay/internal/adapter/notify"
	"github.com/cwygoda/streamrelay/internal/adapter/sqlite"
	"github.com/cwygoda/streamrelay/internal/config"
	"github.com/cwygoda/streamrelay/internal/domain"
	"github.com/cwygoda/streamrelay/internal/supervisor"
)

const shutdownTimeout = 30 * time.Second

var cfg *config.Config

func main() {
	var err error
	cfg, err = config.Prepare(rootCmd.PersistentFlags())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(streamCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Printf("streamrelay: %v", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "streamrelay",
	Short:         "Relay video files to live streaming endpoints with ffmpeg",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP intake and supervise stream jobs",
	Args:  cobra.NoArgs,
	RunE:  doServe,
}

var streamCmd = &cobra.Command{
	Use:   "stream <RTMPS_URL> <STREAM_KEY> <VIDEO_PATH> [REPEAT_COUNT]",
	Short: "Run one stream job in the foreground",
	Args:  cobra.RangeArgs(3, 4),
	RunE:  doStream,
}

func newEncoder() *encoder.FFmpeg {
	return encoder.New(encoder.Options{Path: cfg.FFmpegPath, TailLines: cfg.TailLines})
}

func doServe(cmd *cobra.Command, _ []string) error {
	log.Printf("starting streamrelay on port %d", cfg.Port)
	log.Printf("ffmpeg: %s", cfg.FFmpegPath)

	sinks := notify.Multi{notify.LogSink{}}

	var journal domain.EventJournal
	if cfg.JournalPath != "" {
		log.Printf("journal: %s", cfg.JournalPath)
		j, err := sqlite.New(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer j.Close()

		if lost, err := j.Unfinished(cmd.Context()); err != nil {
			log.Printf("warning: failed to read unfinished jobs: %v", err)
		} else {
			for _, id := range lost {
				log.Printf("job %s: did not finish before the last shutdown", id)
			}
		}
		sinks = append(sinks, j)
		journal = j
	}

	if cfg.ReplyURL != "" {
		log.Printf("reply webhook: %s", cfg.ReplyURL)
		sinks = append(sinks, notify.NewWebhookSink(cfg.ReplyURL, cfg.Secret, cfg.ReplyTimeout))
	}
	if cfg.Secret == "" {
		log.Printf("warning: no secret configured, requests are not authenticated")
	}

	sup := supervisor.New(domain.NewJobRegistry(), newEncoder(), sinks, supervisor.Options{Retention: cfg.Retention})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := httpAdapter.NewServer(sup, journal, addr, cfg.Secret)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("HTTP server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Printf("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		if err := sup.Shutdown(shutdownCtx); err != nil {
			log.Printf("supervisor shutdown: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Println("shutdown complete")
	return nil
}

func doStream(cmd *cobra.Command, args []string) error {
	params := domain.StreamJobParams{
		DestinationURL: args[0],
		StreamKey:      args[1],
		SourcePath:     args[2],
	}
	if len(args) == 4 {
		n, err := strconv.Atoi(args[3])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid repeat count %q", args[3])
		}
		params.RepeatCount = n
	}

	req, err := domain.NewStreamJobRequest(params)
	if err != nil {
		return err
	}

	sink := notify.NewWriterSink(cmd.OutOrStdout())
	// Retain the job until we have read its final state.
	sup := supervisor.New(domain.NewJobRegistry(), newEncoder(), sink, supervisor.Options{Retention: time.Hour})

	id, err := sup.Start(req)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		sup.Wait()
		close(done)
	}()

	shutdownCtx := context.Background()
	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("stopping after the current attempt, interrupt again to kill ffmpeg")
		sup.Cancel(id)
		stop()

		// A second signal cuts the running attempt short.
		killCtx, cancelKill := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancelKill()
		select {
		case <-done:
		case <-killCtx.Done():
			shutdownCtx = killCtx
		}
	}
	sup.Shutdown(shutdownCtx)

	snap, err := sup.Get(id)
	if err != nil {
		return err
	}
	if snap.State != domain.StateCompleted {
		return fmt.Errorf("stream %s after %d attempt(s)", snap.State, len(snap.Attempts))
	}
	return nil
}
