package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	algoprox "github.com/cwbudde/algo-prox"
	"github.com/cwbudde/algo-prox/config"
	"github.com/cwbudde/algo-prox/gpu"
)

type solveFlags struct {
	config      string
	backend     string
	iterations  int
	rows, cols  int
	lambda      float64
	seed        uint64
	verbose     bool
	metricsAddr string
}

func newSolveCmd() *cobra.Command {
	var f solveFlags
	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Solve a random lasso problem",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSolve(cmd, &f)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.config, "config", "c", "", "YAML configuration file")
	fl.StringVar(&f.backend, "backend", "", "backend: pdhg or admm (overrides config)")
	fl.IntVarP(&f.iterations, "iterations", "n", 0, "iteration budget (overrides config)")
	fl.IntVar(&f.rows, "rows", 100, "rows of A")
	fl.IntVar(&f.cols, "cols", 40, "columns of A")
	fl.Float64Var(&f.lambda, "lambda", 0.05, "l1 weight")
	fl.Uint64Var(&f.seed, "seed", 1, "random seed")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "log residual checks")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	return cmd
}

func loadConfig(cmd *cobra.Command, f *solveFlags) (config.Config, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return cfg, err
	}
	if cmd.Flags().Changed("backend") {
		cfg.Backend = f.backend
	}
	if cmd.Flags().Changed("iterations") {
		cfg.Iterations = f.iterations
	}
	return cfg, cfg.Validate()
}

func newBackend(cfg config.Config, p *algoprox.Problem, dev *gpu.Device, opts ...algoprox.Option) algoprox.Backend {
	if cfg.Backend == config.BackendADMM {
		return algoprox.NewADMM(p, dev, cfg.ADMM, opts...)
	}
	return algoprox.NewPDHG(p, dev, cfg.PDHG, opts...)
}

func runSolve(cmd *cobra.Command, f *solveFlags) error {
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return err
	}
	if f.rows <= 0 || f.cols <= 0 {
		return fmt.Errorf("invalid size %dx%d", f.rows, f.cols)
	}

	level := slog.LevelInfo
	if f.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	gpu.RegisterMockBackend(
		gpu.WithMemoryLimit(int64(cfg.Device.MemoryLimitMB)<<20),
		gpu.WithWorkers(cfg.Device.Workers),
	)
	dev, err := gpu.Open(gpu.Options{DeviceIndex: cfg.Device.Index})
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	defer dev.Close()

	reg := prometheus.NewRegistry()
	if f.metricsAddr != "" {
		srv := &http.Server{
			Addr:              f.metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", "err", err)
			}
		}()
		defer srv.Close()
	}

	problem := newLasso(rand.New(rand.NewPCG(f.seed, 0)), f.rows, f.cols, f.lambda)
	p, err := problem.problem()
	if err != nil {
		return err
	}
	backend := newBackend(cfg, p, dev, algoprox.WithLogger(logger), algoprox.WithRegisterer(reg))
	logger.Info("problem",
		"rows", f.rows,
		"cols", f.cols,
		"backend", cfg.Backend,
		"mem_bytes", backend.GPUMemAmount(),
	)

	ctx := cmd.Context()
	if err := backend.Initialize(ctx); err != nil {
		return err
	}
	defer backend.Release()

	x, y := make([]float64, f.cols), make([]float64, f.rows)
	start := time.Now()
	for k := range cfg.Iterations {
		if err := backend.PerformIteration(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Warn("interrupted", "iteration", k)
				break
			}
			return err
		}
		if cfg.LogEvery > 0 && (k+1)%cfg.LogEvery == 0 {
			if err := backend.CurrentSolution(x, y); err != nil {
				return err
			}
			logger.Info("progress", "iteration", k+1, "objective", problem.objective(x))
		}
	}

	if err := backend.CurrentSolution(x, y); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "backend=%s iterations=%d objective=%.6g nonzeros=%d elapsed=%s\n",
		cfg.Backend, backend.Iteration(), problem.objective(x), nonzeros(x, 1e-6),
		time.Since(start).Round(time.Millisecond))
	return nil
}
