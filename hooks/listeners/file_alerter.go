package listeners

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/INLOpen/nexusevent/hooks"
)

// FileAlerterListener logs every new event file. A burst of new files for
// one stream usually means its records outgrow the configured page size.
type FileAlerterListener struct {
	logger *slog.Logger
}

// NewFileAlerterListener creates a new listener for monitoring file creation.
func NewFileAlerterListener(logger *slog.Logger) *FileAlerterListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FileAlerterListener{
		logger: logger.With("component", "FileAlerterListener"),
	}
}

// OnEvent handles the PostCreateFile event.
func (l *FileAlerterListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	if event.Type() != hooks.EventPostCreateFile {
		return nil
	}
	payload, ok := event.Payload().(hooks.FilePayload)
	if !ok {
		l.logger.Error("Received PostCreateFile event with incorrect payload type", "payload_type", fmt.Sprintf("%T", event.Payload()))
		return nil
	}
	l.logger.Info("New event file created", "path", payload.Path, "category", payload.Category.String())
	return nil
}

func (l *FileAlerterListener) Priority() int { return 100 }

func (l *FileAlerterListener) IsAsync() bool { return true }
