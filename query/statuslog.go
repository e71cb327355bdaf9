package query

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/INLOpen/nexusevent/core"
)

// Running-status log events.
const (
	logTooManyConditions = "TOOMANYQUERYCONDITION"
	logCountOverLimit    = "QUERYCOUNTOVERLIMIT"
	logTooManyConcurrent = "TOOMANYCONCURRENTQUERIES"
	logTooFrequent       = "QUERYTOOFREQUENTLY"
	logOverTime          = "QUERYOVERTIME"
)

// StatusLog appends admission rejections and warnings to the running-status
// log, one text line per event.
type StatusLog struct {
	logger *slog.Logger
	closer io.Closer
	once   sync.Once
}

// NewStatusLog writes to w.
func NewStatusLog(w io.Writer) *StatusLog {
	return &StatusLog{logger: slog.New(slog.NewTextHandler(w, nil))}
}

// OpenStatusLog appends to the running-status log file in dir.
func OpenStatusLog(dir string) (*StatusLog, error) {
	path := filepath.Join(dir, core.RunningStatusLogName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: opening running status log %s: %v", core.ErrIO, path, err)
	}
	l := NewStatusLog(f)
	l.closer = f
	return l, nil
}

func (l *StatusLog) record(event string, q *Query, id string, attrs ...any) {
	if l == nil {
		return
	}
	attrs = append(attrs, "class", q.Kind.String(), "query_id", id, "query", q.String())
	l.logger.Warn(event, attrs...)
}

// Close closes the underlying file, if any.
func (l *StatusLog) Close() error {
	var err error
	l.once.Do(func() {
		if l.closer != nil {
			err = l.closer.Close()
		}
	})
	return err
}
