// Command pgreplicate-demo streams logical decoding output from a
// PostgreSQL server to stdout. It wires internal/config, a
// replication.Builder, and the pgoutput decoder together, following this
// repository's single-file cmd/<name>/main.go bootstrap shape and its
// cobra+viper flag-resolution convention.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/quillbyte/pgreplicate/internal/cli"
	"github.com/quillbyte/pgreplicate/internal/config"
	"github.com/quillbyte/pgreplicate/internal/logging"
	"github.com/quillbyte/pgreplicate/internal/replication"
	"github.com/quillbyte/pgreplicate/pkg/decoder/pgoutput"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	command := &cobra.Command{
		Use:          "pgreplicate-demo",
		Short:        "Stream PostgreSQL logical decoding output to stdout",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDemo(cmd)
		},
	}
	command.Flags().String("config", "", "path to a YAML config file")
	command.Flags().String("dsn", "", "PostgreSQL connection string")
	command.Flags().String("slot", "", "replication slot name")
	command.Flags().String("plugin", "", "logical decoding plugin")
	command.Flags().String("publication", "", "publication name passed to pgoutput")
	command.Flags().Bool("drop-slot-on-close", false, "drop the slot when the demo exits")
	command.Flags().Duration("status-interval", 0, "keepalive status update interval")
	command.Flags().Bool("force-rds", false, "disable decoder metadata negotiation for RDS-family servers")
	command.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return cli.InitViperFromCommand(cmd, cli.ViperConfig{EnvPrefix: "pgreplicate"})
	}
	return command
}

func runDemo(cmd *cobra.Command) error {
	configPath := cli.ResolveStringFlag(cmd, "config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlagOverrides(cmd, cfg)

	logger := logging.NewLogrusLogger(newBaseLogger())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	decoder := pgoutput.New(
		pgoutput.WithPublications(strings.Split(cfg.Replication.Publication, ",")...),
		pgoutput.WithLogicalMessages(true),
	)

	builder := replication.NewBuilder(cfg.Postgres.DSN).
		WithLogger(logger).
		WithSlotName(cfg.Replication.SlotName).
		WithPlugin(cfg.Replication.Plugin).
		WithDropSlotOnClose(cfg.Replication.DropSlotOnClose).
		WithStatusUpdateInterval(cfg.Replication.StatusUpdateInterval).
		WithStreamParams(cfg.Replication.StreamParams).
		WithForceRDS(cfg.Replication.ForceRDS).
		WithDecoder(decoder)

	session, err := builder.Build(ctx)
	if err != nil {
		return fmt.Errorf("build replication session: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cerr := session.Close(closeCtx); cerr != nil {
			logger.Warn("close session", logging.Fields{"error": cerr.Error()})
		}
	}()

	stream, err := session.StartStreaming(ctx)
	if err != nil {
		return fmt.Errorf("start streaming: %w", err)
	}

	stream.StartKeepAlive(nil, func(err error) {
		logger.Error("keepalive failed", logging.Fields{"error": err.Error()})
	})

	processor := &loggingProcessor{logger: logger}
	for ctx.Err() == nil {
		if err := stream.Read(ctx, processor); err != nil {
			if ctx.Err() != nil {
				break
			}
			return fmt.Errorf("read stream: %w", err)
		}
	}
	return nil
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if v := cli.ResolveStringFlag(cmd, "dsn"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := cli.ResolveStringFlag(cmd, "slot"); v != "" {
		cfg.Replication.SlotName = v
	}
	if v := cli.ResolveStringFlag(cmd, "plugin"); v != "" {
		cfg.Replication.Plugin = v
	}
	if v := cli.ResolveStringFlag(cmd, "publication"); v != "" {
		cfg.Replication.Publication = v
	}
	if cli.ResolveBoolFlag(cmd, "drop-slot-on-close") {
		cfg.Replication.DropSlotOnClose = true
	}
	if v, err := cli.ResolveDurationFlag(cmd, "status-interval"); err == nil && v > 0 {
		cfg.Replication.StatusUpdateInterval = v
	}
	if cli.ResolveBoolFlag(cmd, "force-rds") {
		cfg.Replication.ForceRDS = true
	}
}

func newBaseLogger() *logrus.Logger {
	base := logrus.New()
	base.SetFormatter(&logrus.JSONFormatter{})
	base.SetOutput(os.Stdout)
	return base
}

// loggingProcessor is the demo's MessageProcessor: it logs every decoded
// change instead of writing it anywhere durable.
type loggingProcessor struct {
	logger logging.Logger
}

func (p *loggingProcessor) Process(_ context.Context, msg replication.DecodedMessage) error {
	p.logger.Info("change", logging.Fields{
		"lsn":       replication.FormatLSN(msg.LSN),
		"operation": msg.Operation,
		"payload":   string(msg.Payload),
	})
	return nil
}
