package session

import (
	"errors"
	"fmt"

	"github.com/e7canasta/orion-inspect/capture"
	"github.com/e7canasta/orion-inspect/pipeline"
	"github.com/e7canasta/orion-inspect/source"
)

// statusFor turns an operation error into the one-line status message.
func statusFor(err error) string {
	var (
		rerr *source.ResolutionError
		oerr *capture.OpenError
		cerr *capture.CapabilityError
	)
	switch {
	case errors.As(err, &rerr):
		return rerr.Message()
	case errors.As(err, &oerr):
		return fmt.Sprintf("could not open source: %s", oerr.Source)
	case errors.As(err, &cerr):
		return fmt.Sprintf("%s is only available for video files", cerr.Op)
	case errors.Is(err, pipeline.ErrNoModel):
		return "load a model first"
	case errors.Is(err, pipeline.ErrNotRunning):
		return "nothing is playing"
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		return "already running, stop first"
	default:
		return err.Error()
	}
}
