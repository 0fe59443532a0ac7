package propagation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MoSam007/MicasaWeb/auth"
	"github.com/MoSam007/MicasaWeb/models"
	"go.uber.org/zap"
)

var (
	// ErrNotStarted is returned when jobs are enqueued before Start or after Stop
	ErrNotStarted = errors.New("propagation service not started")

	// ErrBufferFull is returned when the job was dropped because the queue is full
	ErrBufferFull = errors.New("propagation buffer full")
)

// Job asks the identity provider to record the role a principal holds locally
type Job struct {
	Provider    models.AuthProvider
	UID         string
	Role        models.UserRole
	PrincipalID string
}

// Service pushes role metadata back to identity providers in the background.
// Failures are logged and dropped; the local principal store stays authoritative.
type Service struct {
	directories map[models.AuthProvider]auth.Directory
	logger      *zap.Logger
	jobs        chan Job
	workerCount int
	bufferSize  int
	timeout     time.Duration
	wg          sync.WaitGroup
	started     bool
	stopped     bool
	mu          sync.Mutex
}

// Config holds configuration for the Service
type Config struct {
	BufferSize  int           // Size of the job channel
	WorkerCount int           // Number of concurrent workers
	Timeout     time.Duration // Per-job deadline for the provider call
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  1000,
		WorkerCount: 2,
		Timeout:     5 * time.Second,
	}
}

// NewService creates a new Service. Providers missing from directories are skipped.
func NewService(directories map[models.AuthProvider]auth.Directory, logger *zap.Logger, config Config) *Service {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultConfig().WorkerCount
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if directories == nil {
		directories = map[models.AuthProvider]auth.Directory{}
	}

	return &Service{
		directories: directories,
		logger:      logger,
		jobs:        make(chan Job, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		timeout:     config.Timeout,
	}
}

// Start starts the background workers
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("propagation service already started")
	}
	if s.stopped {
		return fmt.Errorf("propagation service cannot be restarted")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started propagation service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop closes the queue and waits for pending jobs to finish
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.started = false
	s.stopped = true
	close(s.jobs)
	s.mu.Unlock()

	s.logger.Info("stopping propagation service", zap.Int("pending_jobs", len(s.jobs)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("propagation service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("propagation service stop timeout after %v", timeout)
	}
}

// Enqueue schedules a job without blocking. A full queue drops the job.
func (s *Service) Enqueue(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return ErrNotStarted
	}

	select {
	case s.jobs <- job:
		return nil
	default:
		s.logger.Warn("propagation queue full, dropping job",
			zap.String("provider", string(job.Provider)),
			zap.String("uid", job.UID),
			zap.String("role", string(job.Role)))
		return ErrBufferFull
	}
}

func (s *Service) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("propagation worker started", zap.Int("worker_id", id))

	for job := range s.jobs {
		if err := s.process(job); err != nil {
			s.logger.Warn("failed to propagate role to identity provider",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("provider", string(job.Provider)),
				zap.String("uid", job.UID),
				zap.String("role", string(job.Role)))
		}
	}

	s.logger.Debug("propagation worker stopped", zap.Int("worker_id", id))
}

func (s *Service) process(job Job) error {
	dir, ok := s.directories[job.Provider]
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := dir.UpdateRoleMetadata(ctx, job.UID, job.Role, job.PrincipalID); err != nil {
		return fmt.Errorf("update role metadata: %w", err)
	}
	return nil
}

// GetStats returns statistics about the service
func (s *Service) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:  s.bufferSize,
		PendingJobs: len(s.jobs),
		WorkerCount: s.workerCount,
		Started:     s.started,
	}
}

// Stats represents propagation service statistics
type Stats struct {
	BufferSize  int
	PendingJobs int
	WorkerCount int
	Started     bool
}
