package audit

import (
	"sync"
	"time"

	"github.com/ichi0g0y/lucky-draw/internal/localdb"
	"github.com/ichi0g0y/lucky-draw/internal/shared/logger"
	"github.com/ichi0g0y/lucky-draw/internal/types"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

const defaultBufferSize = 256

// SaveFunc は監査ログ1件の保存先
type SaveFunc func(entry types.AuditLog) error

// Recorder writes audit entries from a background goroutine. Record never
// blocks the caller; when the buffer is full the entry is dropped and logged.
// Storage failures are logged and never reported back.
type Recorder struct {
	save    SaveFunc
	entries chan types.AuditLog
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewRecorder starts the writer goroutine. A nil save writes to localdb.
func NewRecorder(save SaveFunc, bufferSize int) *Recorder {
	if save == nil {
		save = localdb.SaveAuditLog
	}
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	r := &Recorder{
		save:    save,
		entries: make(chan types.AuditLog, bufferSize),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer close(r.done)
	for entry := range r.entries {
		if err := r.save(entry); err != nil {
			logger.Error("Failed to write audit log",
				zap.String("action", entry.Action),
				zap.String("id", entry.ID),
				zap.Error(err))
		}
	}
}

// Record queues an audit entry.
func (r *Recorder) Record(action, details, performedBy string) {
	id, err := gonanoid.New()
	if err != nil {
		logger.Warn("Failed to generate audit id", zap.Error(err))
		id = time.Now().UTC().Format("20060102150405.000000000")
	}
	if performedBy == "" {
		performedBy = "anonymous"
	}

	entry := types.AuditLog{
		ID:          id,
		Action:      action,
		Details:     details,
		PerformedBy: performedBy,
		CreatedAt:   time.Now().UTC(),
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		logger.Warn("Audit recorder closed, dropping entry", zap.String("action", action))
		return
	}

	select {
	case r.entries <- entry:
	default:
		logger.Warn("Audit buffer full, dropping entry",
			zap.String("action", action),
			zap.String("details", details))
	}
}

// Close stops accepting entries and waits until queued ones are written.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.entries)
	r.mu.Unlock()

	<-r.done
}
