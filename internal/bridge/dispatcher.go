package bridge

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/internal/engine"
)

// Controller is the engine surface the UI drives.
type Controller interface {
	StartTask(ctx context.Context, req engine.Request) (*engine.Session, error)
	StopTask() bool
	HandleConfirmation(approved bool) bool
}

// dispatcher routes decoded requests to the controller and reports request
// errors back through reply. With stripWaiver set, task requests never skip
// confirmation.
type dispatcher struct {
	ctrl        Controller
	reply       func(Message)
	stripWaiver bool
	logger      *zap.Logger
}

func (d *dispatcher) handle(ctx context.Context, in Inbound) {
	switch in.Type {
	case TypeExecuteTask:
		req, err := in.Task()
		if err != nil {
			d.fail(err)
			return
		}
		if d.stripWaiver && req.Settings.ProceedWithoutConfirmation {
			d.logger.Warn("Ignoring confirmation waiver from this client.")
			req.Settings.ProceedWithoutConfirmation = false
		}
		s, err := d.ctrl.StartTask(ctx, req)
		if err != nil {
			d.fail(fmt.Errorf("could not start task: %w", err))
			return
		}
		d.logger.Info("Task accepted.", zap.String("session_id", s.ID), zap.Int("attachments", len(req.Attachments)))

	case TypeCancelTask:
		if !d.ctrl.StopTask() {
			d.logger.Debug("Cancel received with no running task.")
		}

	case TypeConfirmation:
		if !d.ctrl.HandleConfirmation(in.Decision()) {
			d.logger.Debug("Confirmation received with nothing pending.")
		}

	default:
		d.fail(fmt.Errorf("%w: unknown type %q", ErrMalformedRequest, in.Type))
	}
}

func (d *dispatcher) fail(err error) {
	d.logger.Warn("Request rejected.", zap.Error(err))
	d.reply(errorMessage(err.Error()))
}
