package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/internal/config"
	"github.com/xkilldash9x/deskpilot/internal/confirm"
	"github.com/xkilldash9x/deskpilot/internal/engine"
	"github.com/xkilldash9x/deskpilot/internal/observability"
)

// ErrTaskFailed is returned by run when the task ends without success.
var ErrTaskFailed = errors.New("task did not complete")

// runOptions are the per-invocation overrides of the run command.
type runOptions struct {
	Yes         bool
	Provider    string
	Model       string
	Attachments []string
	NoSearch    bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	runCmd := &cobra.Command{
		Use:   "run [task]",
		Short: "Carry out one task on this desktop and print its progress",
		Long: `Runs a single task in the foreground. Progress is printed as the engine
works. High-risk actions are confirmed on the terminal unless --yes is given.`,
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{annotationStdout: "renderer"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			defer observability.Sync()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			task := strings.Join(args, " ")
			return runTask(ctx, logger, cfg, cmd.InOrStdin(), cmd.OutOrStdout(), task, opts, defaultComponentFactory())
		},
	}

	runCmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "run high-risk actions without asking")
	runCmd.Flags().StringVar(&opts.Provider, "provider", "", "model provider for this task (gemini, openrouter, ollama)")
	runCmd.Flags().StringVar(&opts.Model, "model", "", "model name for the selected provider")
	runCmd.Flags().StringSliceVarP(&opts.Attachments, "attach", "a", nil, "file to send with the task (repeatable)")
	runCmd.Flags().BoolVar(&opts.NoSearch, "no-search", false, "disable the model's web search tool")
	return runCmd
}

// settings converts the flags into a task settings record. Empty fields are
// filled from the configuration by the manager.
func (o runOptions) settings() config.Settings {
	s := config.Settings{
		ModelProvider:              o.Provider,
		ProceedWithoutConfirmation: o.Yes,
		DisableSearchTool:          o.NoSearch,
	}
	switch config.LLMProvider(o.Provider) {
	case config.ProviderOpenRouter:
		s.OpenRouterModel = o.Model
	case config.ProviderOllama:
		s.OllamaModel = o.Model
	default:
		s.SelectedModel = o.Model
	}
	return s
}

// runTask executes task in the foreground and blocks until it ends.
func runTask(ctx context.Context, logger *zap.Logger, cfg config.Interface, in io.Reader, out io.Writer, task string, opts runOptions, f componentFactory) error {
	r := newConsoleRenderer(out)
	components, err := f.initializeComponents(cfg, r, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()

	attachments := make([]string, 0, len(opts.Attachments))
	for _, a := range opts.Attachments {
		abs, err := filepath.Abs(a)
		if err != nil {
			return fmt.Errorf("invalid attachment %q: %w", a, err)
		}
		if _, err := os.Stat(abs); err != nil {
			return fmt.Errorf("attachment %q: %w", a, err)
		}
		attachments = append(attachments, abs)
	}

	s, err := components.Manager.StartTask(ctx, engine.Request{
		Text:        task,
		Mode:        engine.ModeAct,
		Settings:    opts.settings(),
		Attachments: attachments,
	})
	if err != nil {
		return err
	}
	logger.Debug("Task started.", zap.String("session_id", s.ID))

	answers := readAnswers(in, s.Done())
	for {
		select {
		case <-s.Done():
			return taskResult(s)
		case req := <-r.prompts:
			approved := r.ask(req, answers, s.Done())
			components.Manager.HandleConfirmation(approved)
		}
	}
}

func taskResult(s *engine.Session) error {
	switch s.State() {
	case engine.StateDone:
		return nil
	case engine.StateCancelled:
		return context.Canceled
	default:
		return ErrTaskFailed
	}
}

// readAnswers delivers terminal lines until in ends or done closes.
func readAnswers(in io.Reader, done <-chan struct{}) <-chan string {
	answers := make(chan string)
	go func() {
		defer close(answers)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case answers <- sc.Text():
			case <-done:
				return
			}
		}
	}()
	return answers
}

// consoleRenderer prints engine events for a person at a terminal.
type consoleRenderer struct {
	mu  sync.Mutex
	out io.Writer

	prompts chan confirm.Request

	title   *color.Color
	thought *color.Color
	step    *color.Color
	ok      *color.Color
	fail    *color.Color
	dim     *color.Color
	warn    *color.Color
}

func newConsoleRenderer(out io.Writer) *consoleRenderer {
	return &consoleRenderer{
		out:     out,
		prompts: make(chan confirm.Request, 1),
		title:   color.New(color.FgCyan, color.Bold),
		thought: color.New(color.FgWhite),
		step:    color.New(color.FgYellow),
		ok:      color.New(color.FgGreen),
		fail:    color.New(color.FgRed),
		dim:     color.New(color.Faint),
		warn:    color.New(color.FgYellow, color.Bold),
	}
}

// Emit implements engine.Sink.
func (r *consoleRenderer) Emit(e engine.Event) {
	if req, ok := e.Data.(confirm.Request); ok {
		select {
		case r.prompts <- req:
		default:
		}
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch d := e.Data.(type) {
	case engine.TaskStart:
		r.title.Fprintf(r.out, "Task: %s\n", d.Task)
	case engine.AIResponse:
		r.thought.Fprintln(r.out, d.Text)
	case engine.ActionStart:
		r.step.Fprintf(r.out, "-> %s\n", d.Description)
	case engine.ActionComplete:
		mark, c := "ok", r.ok
		if !d.Success {
			mark, c = "failed", r.fail
		}
		c.Fprintf(r.out, "   [%s] %s\n", mark, d.Details)
		if d.Confidence != nil {
			r.dim.Fprintf(r.out, "   confidence %.0f%%\n", *d.Confidence)
		}
		if d.Code != "" {
			r.dim.Fprintf(r.out, "   --- %s ---\n", d.Language)
			fmt.Fprintln(r.out, d.Code)
		}
	case engine.AfterMessage:
		fmt.Fprintln(r.out, d.Text)
	case engine.TaskComplete:
		if d.Success {
			r.ok.Fprintln(r.out, "Task completed.")
		} else {
			r.fail.Fprintln(r.out, "Task did not complete.")
		}
	case engine.TaskStopped:
		r.warn.Fprintln(r.out, "Task stopped.")
	case engine.ErrorMessage:
		r.fail.Fprintf(r.out, "Error: %s\n", d.Message)
	}
}

// ask prints the confirmation request and reads a y/N answer. Anything but
// yes denies, as does the end of input.
func (r *consoleRenderer) ask(req confirm.Request, answers <-chan string, done <-chan struct{}) bool {
	r.mu.Lock()
	r.warn.Fprintf(r.out, "Confirm: %s (%s)\n", req.Description, req.Action)
	for k, v := range req.Parameters {
		r.dim.Fprintf(r.out, "   %s: %v\n", k, v)
	}
	fmt.Fprint(r.out, "Proceed? [y/N] ")
	r.mu.Unlock()

	select {
	case line, ok := <-answers:
		if !ok {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true
		}
		return false
	case <-done:
		return false
	}
}
