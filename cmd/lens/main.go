package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-lens/internal/config"
	"github.com/23skdu/longbow-lens/internal/export"
	"github.com/23skdu/longbow-lens/internal/lens"
	"github.com/23skdu/longbow-lens/internal/logger"
)

var (
	configPath  = flag.String("config", "", "Path to YAML config (defaults are used when empty)")
	modelID     = flag.String("model", "", "Model id (default_model when empty)")
	text        = flag.String("text", "", "Text to visualize")
	textFile    = flag.String("file", "", "Read text from file ('-' for stdin)")
	optionsJSON = flag.String("options", "", `Options as JSON, e.g. {"reduction_method":"tsne","n_components":2}`)
	repeat      = flag.Int("repeat", 1, "Process the same request n times (later runs hit the cache)")
	timeout     = flag.Duration("timeout", 5*time.Minute, "Abort if processing takes longer")
	flightAddr  = flag.String("flight", "", "Arrow Flight address for projection export (overrides config)")
	metricsAddr = flag.String("metrics", "", "Address to serve Prometheus metrics, e.g. :9090")
	listModels  = flag.Bool("list", false, "List configured models and exit")
	showStatus  = flag.Bool("status", false, "Print service status after processing")
	pretty      = flag.Bool("pretty", false, "Indent JSON output")
)

var newService = lens.New

func main() {
	flag.Parse()
	os.Exit(run())
}

// run returns the process exit code; deferred cleanup happens before main
// exits.
func run() int {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)

	if *flightAddr != "" {
		cfg.Export.FlightAddr = *flightAddr
	}
	var exp export.Exporter
	if cfg.Export.FlightAddr != "" {
		fe := export.NewFlightExporter(cfg.Export.FlightAddr, cfg.Export.Path)
		if err := fe.Connect(context.Background()); err != nil {
			logger.Log.Error("Flight exporter unavailable", "addr", cfg.Export.FlightAddr, "error", err)
			return 1
		}
		exp = fe
	}

	svc, err := newService(cfg, nil, exp)
	if err != nil {
		logger.Log.Error("Failed to start", "error", err)
		if exp != nil {
			_ = exp.Close()
		}
		return 1
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Log.Warn("Shutdown error", "error", err)
		}
	}()

	if *listModels {
		emit(svc.ListModels())
		return 0
	}

	if *metricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			logger.Log.Info("Metrics serving", "addr", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
				logger.Log.Error("Metrics server error", "error", err)
			}
		}()
	}

	input, err := readText()
	if err != nil {
		logger.Log.Error("Failed to read text", "error", err)
		return 1
	}
	req := lens.Request{Text: input, ModelID: *modelID}
	if *optionsJSON != "" {
		if err := json.Unmarshal([]byte(*optionsJSON), &req.Options); err != nil {
			logger.Log.Error("Invalid -options JSON", "error", err)
			return 1
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	type outcome struct {
		res *lens.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		var last outcome
		for i := 0; i < max(1, *repeat); i++ {
			start := time.Now()
			res, err := svc.Handle(req)
			last = outcome{res, err}
			if err != nil {
				break
			}
			logger.Log.Info("Processed", "run", i+1, "tokens", res.Metadata.NumTokens,
				"duration", time.Since(start).String())
		}
		done <- last
	}()

	select {
	case o := <-done:
		if o.err != nil {
			emit(o.err)
			return 2
		}
		emit(o.res)
	case <-time.After(*timeout):
		logger.Log.Error("Processing timed out", "timeout", timeout.String())
		return 3
	case <-sigChan:
		logger.Log.Info("Interrupt received, shutting down")
		return 130
	}

	if *showStatus {
		emit(svc.Status())
	}
	return 0
}

func readText() (string, error) {
	switch {
	case *textFile == "-":
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	case *textFile != "":
		data, err := os.ReadFile(*textFile)
		return string(data), err
	case *text != "":
		return *text, nil
	}
	return "", fmt.Errorf("one of -text or -file is required")
}

func emit(v any) {
	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		logger.Log.Error("Failed to encode output", "error", err)
	}
}
