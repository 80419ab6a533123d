package bridge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/deskpilot/internal/engine"
)

const (
	outboxSize   = 256
	maxLineBytes = 4 << 20
)

// Stdio speaks the line protocol: FRONTEND_REQUEST lines in, FRONTEND_MESSAGE
// lines out. It is the engine's event sink and preserves emission order.
type Stdio struct {
	in     io.Reader
	out    io.Writer
	logger *zap.Logger

	outbox    chan Message
	closed    chan struct{}
	closeOnce sync.Once
}

// NewStdio creates a bridge over the given streams.
func NewStdio(in io.Reader, out io.Writer, logger *zap.Logger) *Stdio {
	return &Stdio{
		in:     in,
		out:    out,
		logger: logger.Named("bridge.stdio"),
		outbox: make(chan Message, outboxSize),
		closed: make(chan struct{}),
	}
}

// Emit queues an engine event. It blocks while the outbox is full and drops
// the event once the bridge has shut down.
func (b *Stdio) Emit(e engine.Event) { b.send(NewMessage(e)) }

func (b *Stdio) send(m Message) {
	select {
	case b.outbox <- m:
	case <-b.closed:
		b.logger.Debug("Bridge closed, dropping message.", zap.String("type", m.Type))
	}
}

// Serve reads requests until the input ends, a quit line arrives, or ctx is
// cancelled. Queued messages are flushed before it returns.
func (b *Stdio) Serve(ctx context.Context, ctrl Controller) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d := &dispatcher{ctrl: ctrl, reply: b.send, logger: b.logger}
	lines := b.scan(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return b.readLoop(gctx, lines, d)
	})
	g.Go(func() error {
		return b.writeLoop(gctx)
	})
	return g.Wait()
}

// scan feeds input lines to a channel so the read loop can observe ctx.
func (b *Stdio) scan(ctx context.Context) <-chan scanResult {
	lines := make(chan scanResult)
	deliver := func(r scanResult) bool {
		select {
		case lines <- r:
			return true
		case <-ctx.Done():
			return false
		}
	}
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(b.in)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for sc.Scan() {
			if !deliver(scanResult{line: sc.Text()}) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			deliver(scanResult{err: err})
		}
	}()
	return lines
}

type scanResult struct {
	line string
	err  error
}

func (b *Stdio) readLoop(ctx context.Context, lines <-chan scanResult, d *dispatcher) error {
	b.logger.Info("Waiting for requests on stdin.")
	for {
		select {
		case <-ctx.Done():
			return nil
		case res, ok := <-lines:
			if !ok {
				b.logger.Info("Input closed.")
				return nil
			}
			if res.err != nil {
				return fmt.Errorf("reading requests: %w", res.err)
			}
			if b.handleLine(ctx, res.line, d) {
				return nil
			}
		}
	}
}

// handleLine processes one input line and reports whether the host asked
// to quit.
func (b *Stdio) handleLine(ctx context.Context, line string, d *dispatcher) bool {
	trimmed := strings.TrimSpace(line)
	switch strings.ToLower(trimmed) {
	case "":
		return false
	case "quit", "exit", "q":
		b.logger.Info("Quit requested by host.")
		return true
	}

	in, ok, err := ParseRequestLine(trimmed)
	if !ok {
		b.logger.Debug("Ignoring non-protocol line.", zap.String("line", trimmed))
		return false
	}
	if err != nil {
		d.fail(err)
		return false
	}
	d.handle(ctx, in)
	return false
}

func (b *Stdio) writeLoop(ctx context.Context) error {
	defer b.closeOnce.Do(func() { close(b.closed) })
	for {
		select {
		case m := <-b.outbox:
			if err := b.write(m); err != nil {
				return err
			}
		case <-ctx.Done():
			for {
				select {
				case m := <-b.outbox:
					if err := b.write(m); err != nil {
						return err
					}
				default:
					return nil
				}
			}
		}
	}
}

func (b *Stdio) write(m Message) error {
	line, err := EncodeLine(m)
	if err != nil {
		b.logger.Error("Failed to encode message.", zap.String("type", m.Type), zap.Error(err))
		return nil
	}
	if _, err := b.out.Write(line); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}
