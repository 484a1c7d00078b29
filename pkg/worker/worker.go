package worker

import (
	"context"
	"errors"
	"time"

	"github.com/openv0/openv0/pkg/generation"
	"github.com/openv0/openv0/pkg/storage"
	"github.com/sirupsen/logrus"
)

// Config controls the polling loop
type Config struct {
	CheckInterval time.Duration // How often to poll the queue
	BatchSize     int           // Sessions processed per tick
	RunTimeout    time.Duration // Upper bound for one session
}

// Runner processes one queued session
type Runner interface {
	Run(ctx context.Context, sessionID string) error
}

// Queue hands out queued session IDs
type Queue interface {
	DequeueSession(ctx context.Context) (string, error)
	EnqueueSession(ctx context.Context, sessionID string) error
}

// Worker drains the generation queue in the background
type Worker struct {
	config   *Config
	runner   Runner
	queue    Queue
	logger   *logrus.Logger
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewWorker creates a new queue worker
func NewWorker(config *Config, runner Runner, queue Queue, logger *logrus.Logger) *Worker {
	if config.BatchSize <= 0 {
		config.BatchSize = 4
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = generation.LockTTL
	}
	return &Worker{
		config:   config,
		runner:   runner,
		queue:    queue,
		logger:   logger,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start runs the polling loop until Stop is called
func (w *Worker) Start() {
	w.logger.WithFields(logrus.Fields{
		"check_interval": w.config.CheckInterval.String(),
		"batch_size":     w.config.BatchSize,
	}).Info("Starting generation worker")

	ticker := time.NewTicker(w.config.CheckInterval)
	defer ticker.Stop()

	// Run immediately on start
	w.processQueue()

	for {
		select {
		case <-ticker.C:
			w.processQueue()
		case <-w.stopChan:
			w.logger.Info("Generation worker stopping")
			close(w.doneChan)
			return
		}
	}
}

// Stop waits for the current batch and stops the worker
func (w *Worker) Stop() {
	close(w.stopChan)
	<-w.doneChan
	w.logger.Info("Generation worker stopped")
}

// processQueue runs up to BatchSize queued sessions
func (w *Worker) processQueue() {
	processed, failed := 0, 0

	for i := 0; i < w.config.BatchSize; i++ {
		select {
		case <-w.stopChan:
			return
		default:
		}

		sessionID, err := w.dequeue()
		if err != nil {
			w.logger.WithError(err).Error("Failed to read generation queue")
			return
		}
		if sessionID == "" {
			break
		}

		if err := w.process(sessionID); err != nil {
			failed++
		} else {
			processed++
		}
	}

	if processed+failed > 0 {
		w.logger.WithFields(logrus.Fields{
			"processed": processed,
			"failed":    failed,
		}).Info("Generation cycle complete")
	}
}

func (w *Worker) dequeue() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return w.queue.DequeueSession(ctx)
}

func (w *Worker) process(sessionID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.config.RunTimeout)
	defer cancel()

	log := w.logger.WithField("session_id", sessionID)

	err := w.runner.Run(ctx, sessionID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, generation.ErrSessionBusy):
		// Someone is stepping through it by hand, try again later
		log.Info("Session busy, requeueing")
		if err := w.queue.EnqueueSession(context.Background(), sessionID); err != nil {
			log.WithError(err).Error("Failed to requeue session")
		}
		return nil
	case errors.Is(err, generation.ErrNotFound):
		log.Warn("Queued session expired before processing")
		return nil
	default:
		log.WithError(err).Error("Generation session failed")
		return err
	}
}

// compile-time check that the Redis store can back the queue
var _ Queue = (*storage.RedisStore)(nil)
