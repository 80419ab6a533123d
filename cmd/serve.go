package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/internal/bridge"
	"github.com/xkilldash9x/deskpilot/internal/config"
	"github.com/xkilldash9x/deskpilot/internal/engine"
	"github.com/xkilldash9x/deskpilot/internal/observability"
)

// transport is a UI bridge: the engine's event sink and a request server.
type transport interface {
	engine.Sink
	Serve(ctx context.Context, ctrl bridge.Controller) error
}

func newServeCmd() *cobra.Command {
	var listen string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the UI protocol on stdio, or on a WebSocket with --listen",
		Long: `Runs the task engine for a UI host. By default requests are read as
FRONTEND_REQUEST lines on stdin and events are written as FRONTEND_MESSAGE
lines on stdout. With --listen the same JSON objects are exchanged as
WebSocket frames on /ws/v1/interact.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationStdout: "protocol"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			defer observability.Sync()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			var t transport
			if listen != "" {
				t = bridge.NewWebSocket(listen, logger,
					bridge.WithAllowedOrigins(cfg.Bridge().AllowedOrigins...),
					bridge.WithConfirmationWaiver(cfg.Bridge().AllowConfirmationWaiver))
			} else {
				t = bridge.NewStdio(os.Stdin, cmd.OutOrStdout(), logger)
			}
			return runServe(ctx, logger, cfg, t, defaultComponentFactory())
		},
	}

	serveCmd.Flags().StringVar(&listen, "listen", "", "serve WebSocket clients on this address (e.g. 127.0.0.1:8765) instead of stdio")
	return serveCmd
}

// runServe wires the engine to t and serves until t stops or ctx ends.
func runServe(ctx context.Context, logger *zap.Logger, cfg config.Interface, t transport, f componentFactory) error {
	components, err := f.initializeComponents(cfg, t, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()

	logger.Info("Engine ready.",
		zap.String("provider", string(cfg.LLM().Provider)),
		zap.String("data_dir", components.Store.Dir()),
		zap.Int("max_loops", cfg.Engine().MaxLoops))

	if err := t.Serve(ctx, components.Manager); err != nil {
		return fmt.Errorf("bridge stopped: %w", err)
	}
	return nil
}
