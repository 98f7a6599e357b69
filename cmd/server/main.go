package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	pflag "github.com/spf13/pflag"

	"bkidx/internal/config"
	"bkidx/internal/csvstore"
	"bkidx/internal/engine"
	"bkidx/internal/logger"
	"bkidx/internal/network"
	"bkidx/internal/snapshot"
	"bkidx/internal/transaction"
)

func main() {
	configPath := pflag.String("config", "", "path to an optional HUJSON ops config file")
	bindIP := pflag.String("bind-ip", "", "override bind address")
	port := pflag.Int("port", 0, "override listen port")
	idxPath := pflag.String("idx", "", "override index file path")
	csvPath := pflag.String("csv", "", "override CSV file path")
	quiet := pflag.Bool("quiet", false, "disable info logging (log only errors)")
	pflag.Parse()

	logFile, err := os.OpenFile("server.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		log.Fatalf("failed to open log file: %v", err)
	}
	defer logFile.Close()

	logger.Setup(io.MultiWriter(os.Stdout, logFile))
	if *quiet {
		logger.SetLevel(logger.LevelError)
	} else {
		logger.SetLevel(logger.LevelInfo)
	}

	logger.Info("----------------------------------------")
	logger.Info("bkidx server initializing...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("config: %v", err)
	}

	// Positional server CLI: <program> <bind-ip> <port> <idx-path> <csv-path>,
	// mirroring cmd/builder's pflag.Arg usage. Flags below take precedence
	// over positional args, which in turn take precedence over the config
	// file and built-in defaults.
	if pflag.NArg() == 4 {
		p, err := strconv.Atoi(pflag.Arg(1))
		if err != nil {
			logger.Fatal("invalid port %q: %v", pflag.Arg(1), err)
		}
		cfg.BindIP = pflag.Arg(0)
		cfg.Port = p
		cfg.IndexPath = pflag.Arg(2)
		cfg.CSVPath = pflag.Arg(3)
	} else if pflag.NArg() != 0 {
		logger.Fatal("usage: %s [flags] [<bind-ip> <port> <idx-path> <csv-path>]", os.Args[0])
	}

	if *bindIP != "" {
		cfg.BindIP = *bindIP
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *idxPath != "" {
		cfg.IndexPath = *idxPath
	}
	if *csvPath != "" {
		cfg.CSVPath = *csvPath
	}
	if cfg.IndexPath == "" || cfg.CSVPath == "" {
		logger.Fatal("both positional <idx-path> <csv-path> (or --idx/--csv, or index_path/csv_path in the config file) are required")
	}

	idx, err := engine.Open(cfg.IndexPath)
	if err != nil {
		logger.Fatal("failed to open index: %v", err)
	}
	defer idx.Close()

	store, err := csvstore.Open(cfg.CSVPath)
	if err != nil {
		logger.Fatal("failed to open csv store: %v", err)
	}
	defer store.Close()

	tx := transaction.New(idx, store)

	srv := network.New(cfg.BindIP, cfg.Port, tx)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	admin := network.NewAdminServer(cfg.BindIP, cfg.Port+1, func(name string) (snapshot.Manifest, error) {
		// Pause writers so the idx+csv pair and the entry count are copied
		// as one consistent state.
		idx.WriterLock()
		defer idx.WriterUnlock()
		return snapshot.Create(cfg.IndexPath, cfg.CSVPath, cfg.SnapshotDir, name, idx.TotalEntries())
	})

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	adminDone := make(chan error, 1)
	go func() { adminDone <- admin.Run(ctx) }()

	logger.Info("bkidx server listening on %s:%d (admin on %d). Press Ctrl+C to stop.", cfg.BindIP, cfg.Port, cfg.Port+1)

	<-ctx.Done()
	logger.Info("shutting down...")

	if err := <-done; err != nil {
		logger.Error("server: %v", err)
	}
	if err := <-adminDone; err != nil {
		logger.Error("admin server: %v", err)
	}
}
