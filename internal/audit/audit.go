// Package audit writes an immutable trail of connection lifecycle events.
// Entries are buffered and batch-inserted off the request path so audit
// logging never slows down token issuance.
package audit

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Adam151997/Y-CRM-sub000/internal/models"
	"github.com/Adam151997/Y-CRM-sub000/internal/store"

	"github.com/google/uuid"
)

const batchFlushSize = 100

// Entry represents the data needed to create an audit log entry
type Entry struct {
	EventType    models.EventType
	Severity     models.EventSeverity
	TenantID     string
	Provider     string
	Details      models.AuditDetails
	Success      bool
	ErrorMessage string
}

// Service handles audit logging operations
type Service struct {
	store   *store.Store
	enabled bool

	// Async logging channel
	logChan chan *models.AuditLog

	// Batch buffer
	batchBuffer []*models.AuditLog
	batchMutex  sync.Mutex
	batchTicker *time.Ticker

	// Graceful shutdown
	wg         sync.WaitGroup
	shutdownCh chan struct{}
}

// NewService creates a new audit service
func NewService(s *store.Store, enabled bool, bufferSize int) *Service {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	service := &Service{
		store:       s,
		enabled:     enabled,
		logChan:     make(chan *models.AuditLog, bufferSize),
		batchBuffer: make([]*models.AuditLog, 0, batchFlushSize),
		batchTicker: time.NewTicker(1 * time.Second),
		shutdownCh:  make(chan struct{}),
	}

	if enabled {
		service.wg.Add(1)
		go service.worker()
		log.Printf("[Audit] service started with buffer size %d", bufferSize)
	} else {
		log.Println("[Audit] service is disabled")
	}

	return service
}

// Record queues an audit entry. Non-blocking: when the buffer is full the
// entry is dropped with a warning rather than stalling the caller.
func (s *Service) Record(entry Entry) {
	if !s.enabled {
		return
	}

	row := &models.AuditLog{
		ID:           uuid.New().String(),
		EventType:    entry.EventType,
		EventTime:    time.Now(),
		Severity:     entry.Severity,
		TenantID:     entry.TenantID,
		Provider:     entry.Provider,
		Details:      entry.Details,
		Success:      entry.Success,
		ErrorMessage: entry.ErrorMessage,
	}

	select {
	case s.logChan <- row:
	default:
		log.Printf("[Audit] buffer full, dropping event %s for tenant %s",
			entry.EventType, entry.TenantID)
	}
}

// worker is the background goroutine that processes audit logs
func (s *Service) worker() {
	defer s.wg.Done()

	for {
		select {
		case row := <-s.logChan:
			s.addToBatch(row)

		case <-s.batchTicker.C:
			s.flushBatch()

		case <-s.shutdownCh:
			// Drain whatever is queued, then flush
			for {
				select {
				case row := <-s.logChan:
					s.addToBatch(row)
				default:
					s.flushBatch()
					return
				}
			}
		}
	}
}

// addToBatch adds a log entry to the batch buffer
func (s *Service) addToBatch(row *models.AuditLog) {
	s.batchMutex.Lock()
	defer s.batchMutex.Unlock()

	s.batchBuffer = append(s.batchBuffer, row)

	if len(s.batchBuffer) >= batchFlushSize {
		s.flushBatchUnsafe()
	}
}

// flushBatch flushes the batch buffer to the database (thread-safe)
func (s *Service) flushBatch() {
	s.batchMutex.Lock()
	defer s.batchMutex.Unlock()
	s.flushBatchUnsafe()
}

// flushBatchUnsafe writes the buffer; caller must hold batchMutex
func (s *Service) flushBatchUnsafe() {
	if len(s.batchBuffer) == 0 {
		return
	}

	if err := s.store.CreateAuditLogs(s.batchBuffer); err != nil {
		log.Printf("[Audit] failed to write %d entries: %v", len(s.batchBuffer), err)
	}

	s.batchBuffer = s.batchBuffer[:0]
}

// Shutdown stops the worker and flushes pending entries
func (s *Service) Shutdown(ctx context.Context) error {
	if !s.enabled {
		return nil
	}

	s.batchTicker.Stop()
	close(s.shutdownCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit shutdown timed out: %w", ctx.Err())
	}
}

// CleanupOldLogs deletes entries older than the retention window and
// returns the number removed
func (s *Service) CleanupOldLogs(retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	return s.store.DeleteAuditLogsBefore(time.Now().Add(-retention))
}
