package main

import (
	"io"
	"log"
	"os"

	pflag "github.com/spf13/pflag"

	"bkidx/internal/builder"
	"bkidx/internal/logger"
)

func main() {
	quiet := pflag.Bool("quiet", false, "disable info logging (log only errors)")
	pflag.Parse()

	logger.Setup(io.MultiWriter(os.Stdout))
	if *quiet {
		logger.SetLevel(logger.LevelError)
	} else {
		logger.SetLevel(logger.LevelInfo)
	}

	if pflag.NArg() != 2 {
		log.Fatalf("usage: %s [--quiet] <csv-in> <idx-out>", os.Args[0])
	}
	csvPath := pflag.Arg(0)
	idxPath := pflag.Arg(1)

	logger.Info("bkidx builder: building %s -> %s", csvPath, idxPath)

	stats, err := builder.Build(csvPath, idxPath)
	if err != nil {
		logger.Fatal("build failed: %v", err)
	}

	logger.Info("build complete: %d entries, %d non-empty buckets, %d lines skipped",
		stats.TotalEntries, stats.NonEmptyBuckets, stats.SkippedLines)
}
