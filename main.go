package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adam151997/Y-CRM-sub000/internal/audit"
	"github.com/Adam151997/Y-CRM-sub000/internal/bootstrap"
	"github.com/Adam151997/Y-CRM-sub000/internal/broker"
	"github.com/Adam151997/Y-CRM-sub000/internal/config"
	"github.com/Adam151997/Y-CRM-sub000/internal/crypto"
	"github.com/Adam151997/Y-CRM-sub000/internal/metrics"
	"github.com/Adam151997/Y-CRM-sub000/internal/rotation"
	"github.com/Adam151997/Y-CRM-sub000/internal/store"
	"github.com/Adam151997/Y-CRM-sub000/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		version.PrintVersion()
		os.Exit(0)
	}

	command := "server"
	args := flag.Args()
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	switch command {
	case "server":
		runServer()
	case "rotate-keys":
		runRotateKeys(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(2)
	}
}

func runServer() {
	cfg := config.Load()
	if err := bootstrap.Run(cfg); err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
}

// runRotateKeys re-encrypts all stored token ciphertext from one key
// version to another. Safe to re-run after interruption.
func runRotateKeys(args []string) {
	fs := flag.NewFlagSet("rotate-keys", flag.ExitOnError)
	from := fs.Int("from", 0, "Key version to rotate away from")
	to := fs.Int("to", 0, "Key version to rotate to")
	batch := fs.Int("batch", 100, "Rows per batch")
	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}
	if *from <= 0 || *to <= 0 || *from == *to {
		fmt.Fprintln(os.Stderr, "rotate-keys requires distinct -from and -to key versions")
		os.Exit(2)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	st, err := store.New(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	enc, err := crypto.NewEncryptor(cfg.EncryptionKeys, cfg.EncryptionActiveKey)
	if err != nil {
		log.Fatalf("Failed to load encryption keys: %v", err)
	}

	auditSvc := audit.NewService(st, cfg.AuditEnabled, cfg.AuditBufferSize)
	b := broker.New(st, enc, nil, broker.Options{Audit: auditSvc})
	runner := rotation.NewRunner(st, b, metrics.Init(false), auditSvc, *batch)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := runner.Run(ctx, *from, *to)
	if err != nil {
		log.Fatalf("Rotation aborted: %v", err)
	}
	if err := auditSvc.Shutdown(context.Background()); err != nil {
		log.Printf("Audit shutdown: %v", err)
	}
	if summary.Failed > 0 {
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: %s [flags] [command]

Commands:
  server        Run the connections service (default)
  rotate-keys   Re-encrypt stored tokens with a new key version
                (-from N -to M [-batch 100])

Flags:
`, os.Args[0])
	flag.PrintDefaults()
}
