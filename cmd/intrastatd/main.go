package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/intrastat-extractor/internal/app"
	"github.com/joseph-ayodele/intrastat-extractor/internal/async"
	"github.com/joseph-ayodele/intrastat-extractor/internal/common"
	"github.com/joseph-ayodele/intrastat-extractor/internal/entity"
	"github.com/joseph-ayodele/intrastat-extractor/internal/ingest"
	"github.com/joseph-ayodele/intrastat-extractor/internal/pipeline"
)

func main() {
	cfg := common.LoadConfig()

	fs := ff.NewFlagSet("intrastatd")
	var (
		inbox    = fs.StringLong("inbox", cfg.Watch.InboxDir, "directory watched for invoice PDFs")
		out      = fs.StringLong("out", cfg.Output.WorkbookPath, "workbook every batch is merged into")
		grpcAddr = fs.StringLong("grpc-addr", cfg.Server.GRPCAddr, "gRPC health service listen address")
		debounce = fs.DurationLong("debounce", cfg.Watch.Debounce, "quiet period that closes a batch")
		scan     = fs.BoolLong("initial-scan", "process PDFs already in the inbox at start")
	)
	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("INTRASTAT")); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	cfg.Watch.InboxDir = *inbox
	cfg.Output.WorkbookPath = *out
	cfg.Server.GRPCAddr = *grpcAddr
	cfg.Watch.Debounce = *debounce

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Watch.InboxDir, 0o755); err != nil {
		logger.Error("failed to create inbox", "dir", cfg.Watch.InboxDir, "error", err)
		os.Exit(1)
	}

	a, err := app.Build(ctx, cfg, app.Options{WithLedger: true, WithStore: true}, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.HealthCheck(ctx); err != nil {
		logger.Error("ledger health failed", "error", err)
		os.Exit(1)
	}
	logger.Info("ledger health OK")

	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("listen", "addr", cfg.Server.GRPCAddr, "error", err)
		os.Exit(1)
	}
	go func() {
		logger.Info("gRPC health serving", "addr", cfg.Server.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("grpc serve", "error", err)
		}
	}()

	batches, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
		Roots:       []string{cfg.Watch.InboxDir},
		InitialScan: *scan,
		Debounce:    cfg.Watch.Debounce,
	}, logger)
	if err != nil {
		logger.Error("failed to start watcher", "error", err)
		os.Exit(1)
	}
	logger.Info("watching inbox", "dir", cfg.Watch.InboxDir, "output", cfg.Output.WorkbookPath)

	queue := async.NewBatchQueue(func(ctx context.Context, job async.Job) error {
		return runBatch(ctx, a, cfg, job, logger, hs)
	}, logger, async.WithProcessTimeout(cfg.Pipeline.DocumentTimeout*4))

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err, ok := <-errs:
			if ok {
				logger.Warn("watcher error", "error", err)
			}
		case paths, ok := <-batches:
			if !ok {
				break loop
			}
			job := async.Job{ID: uuid.NewString(), Paths: paths}
			if err := queue.Enqueue(ctx, job); err != nil {
				logger.Warn("batch not queued", "job_id", job.ID, "error", err)
			}
		}
	}

	logger.Info("shutting down...")
	drainCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	queue.Shutdown(drainCtx)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	grpcServer.GracefulStop()
	logger.Info("stopped")
}

// runBatch processes one debounced set of inbox files. Content already merged
// by an earlier batch is skipped.
func runBatch(ctx context.Context, a *app.App, cfg *common.Config, job async.Job, logger *slog.Logger, hs *health.Server) error {
	var docs []entity.Document
	for _, p := range job.Paths {
		doc, err := ingest.ReadDocument(p)
		if err != nil {
			logger.Warn("inbox file skipped", "path", p, "error", err)
			continue
		}
		done, err := a.Ledger.Processed(ctx, doc.SHA256)
		if err != nil {
			logger.Warn("ledger lookup failed", "path", p, "error", err)
		}
		if done {
			logger.Info("inbox file already processed", "path", filepath.Base(p), "sha256", doc.SHA256)
			continue
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return nil
	}

	report, err := a.Runner.Run(ctx, pipeline.Request{
		BatchID:    job.ID,
		Documents:  docs,
		Percentage: cfg.Pipeline.Percentage,
		Output:     cfg.Output.WorkbookPath,
	})
	if err != nil {
		hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	logger.Info("batch merged",
		"batch_id", report.BatchID,
		"rows_added", report.RowsAdded,
		"duplicates", report.Duplicates,
		"issues", len(report.Issues),
	)
	return nil
}
