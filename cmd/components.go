package cmd

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/internal/actuator"
	"github.com/xkilldash9x/deskpilot/internal/capture"
	"github.com/xkilldash9x/deskpilot/internal/config"
	"github.com/xkilldash9x/deskpilot/internal/confirm"
	"github.com/xkilldash9x/deskpilot/internal/desktop"
	"github.com/xkilldash9x/deskpilot/internal/engine"
	"github.com/xkilldash9x/deskpilot/internal/llmclient"
	"github.com/xkilldash9x/deskpilot/internal/store"
	"github.com/xkilldash9x/deskpilot/internal/verifier"
)

// Components holds the wired engine and the services behind it.
type Components struct {
	Store   *store.Store
	Desktop desktop.Backend
	Manager *engine.Manager
}

// Shutdown stops the active task and waits for it to finish.
func (c *Components) Shutdown() {
	if c.Manager != nil {
		c.Manager.Shutdown()
	}
}

// componentFactory lets tests substitute the desktop backend and screen
// grabber.
type componentFactory struct {
	newBackend func(logger *zap.Logger) (desktop.Backend, error)
	grabber    capture.Grabber
}

func defaultComponentFactory() componentFactory {
	return componentFactory{
		newBackend: func(logger *zap.Logger) (desktop.Backend, error) {
			return desktop.New(desktop.ExecRunner{}, logger)
		},
		grabber: capture.ScreenGrabber{},
	}
}

// initializeComponents builds the engine stack for cfg. Events go to sink.
func (f componentFactory) initializeComponents(cfg config.Interface, sink engine.Sink, logger *zap.Logger) (*Components, error) {
	st, err := store.New(cfg.Store().DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	backend, err := f.newBackend(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize desktop backend: %w", err)
	}
	logger.Info("Desktop backend ready.", zap.String("backend", backend.Name()))

	capturer := capture.New(cfg.Capture(), f.grabber, backend, logger)
	act := actuator.New(cfg.Input(), cfg.Engine().WaitSlice, backend, st, logger)

	factory, err := llmclient.NewFactory(cfg.LLM(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize model clients: %w", err)
	}

	input := cfg.Input()
	loop, err := engine.NewLoop(cfg.Engine(), cfg.Capture(), engine.Dependencies{
		Capturer:  capturer,
		Executor:  act,
		Factory:   factory,
		Snapshots: st,
		Gate:      confirm.NewGate(cfg.Engine().ConfirmTimeout, logger),
		NewVerifier: func(client llmclient.Client) engine.Verifier {
			return verifier.New(client, capturer, backend, input.TerminalTimeout, input.TerminalOutputLimit, logger)
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize engine loop: %w", err)
	}

	manager, err := engine.NewManager(loop, sink, cfg.Engine().RestartSettle, logger,
		engine.WithDefaultSettings(cfg.DefaultSettings()))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize task manager: %w", err)
	}

	return &Components{Store: st, Desktop: backend, Manager: manager}, nil
}
