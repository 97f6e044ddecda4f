package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yairfalse/auditstream/pkg/transport"
)

var (
	captureCompress bool
	captureCount    uint64
)

var captureCmd = &cobra.Command{
	Use:   "capture <file>",
	Short: "Record raw audit netlink messages to a file",
	Long: `Capture binds the audit socket and appends every raw netlink message
to a length-prefixed capture file, without parsing. The file can later
be fed back through the replay command to reproduce the exact stream.`,
	Args: cobra.ExactArgs(1),
	RunE: runCapture,
}

func init() {
	captureCmd.Flags().BoolVar(&captureCompress, "compress", false, "zstd-compress the capture file")
	captureCmd.Flags().Uint64Var(&captureCount, "count", 0, "stop after this many messages (0 = until signalled)")
}

func runCapture(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	source, err := transport.NewNetlinkSource(logger, cfg.Transport.Netlink)
	if err != nil {
		return fmt.Errorf("failed to open audit socket: %w", err)
	}

	writer, err := transport.NewCaptureWriter(args[0], captureCompress)
	if err != nil {
		source.Close()
		return err
	}

	ctx := cmd.Context()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("Stopping capture", zap.String("signal", sig.String()))
			source.Close()
		case <-ctx.Done():
		}
	}()

	logger.Info("Capture started",
		zap.String("path", args[0]),
		zap.Bool("compress", captureCompress))

	var runErr error
	for {
		msg, err := source.ReceiveRaw(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				runErr = err
			}
			break
		}
		if err := writer.WriteMessage(msg); err != nil {
			runErr = fmt.Errorf("capture write failed: %w", err)
			break
		}
		if captureCount > 0 && writer.Count() >= captureCount {
			break
		}
	}
	source.Close()

	if err := writer.Close(); err != nil {
		logger.Error("Failed to close capture file", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}

	logger.Info("Capture complete", zap.Uint64("messages", writer.Count()))
	return runErr
}
