package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lechuhuuha/event_relay/cmd/bootstrap"
	"github.com/lechuhuuha/event_relay/config"
	loggerpkg "github.com/lechuhuuha/event_relay/logger"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "event-relay",
		Short:         "gRPC to Kafka event relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newServeCmd(), newSendCmd(), newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "event-relay: %v\n", err)
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relay (gRPC ingestion plus HTTP health and metrics)",
	}
	cli := config.BindFlags(cmd.Flags())
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Resolve(*cli)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logg, cleanup, err := bootstrap.InitLogger(cfg.Log)
		if err != nil {
			return err
		}
		defer cleanup()

		stopObservability := bootstrap.InitObservability(logg)
		defer stopObservability(context.Background())

		application, err := bootstrap.NewAppWithBuildInfo(cfg, logg, bootstrap.BuildInfo{
			Version:   Version,
			Commit:    Commit,
			BuildDate: BuildDate,
		})
		if err != nil {
			return fmt.Errorf("build app: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := application.Run(ctx); err != nil {
			logg.Error("application exited", loggerpkg.F("error", err))
			return err
		}
		return nil
	}
	return cmd
}

func newSendCmd() *cobra.Command {
	var (
		opts    bootstrap.SendOptions
		payload string
		file    string
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one event to a running relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := readPayload(payload, file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			opts.Payload = data
			res, err := bootstrap.SendEvent(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "success=%t code=%s", res.Success, res.Code)
			if res.Message != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " message=%q", res.Message)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			if !res.Success {
				return fmt.Errorf("event rejected: %s", res.Code)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", "localhost:50051", "Relay gRPC address")
	cmd.Flags().StringVar(&payload, "payload", "", "Event payload")
	cmd.Flags().StringVar(&file, "file", "", "Read the payload from a file ('-' for stdin)")
	cmd.Flags().StringVar(&opts.Key, "key", "", "Partition key sent as x-partition-key")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 5*time.Second, "Call timeout")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "event-relay %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		},
	}
}

func readPayload(payload, file string, stdin io.Reader) ([]byte, error) {
	switch strings.TrimSpace(file) {
	case "":
		return []byte(payload), nil
	case "-":
		return io.ReadAll(stdin)
	default:
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read payload file: %w", err)
		}
		return data, nil
	}
}
