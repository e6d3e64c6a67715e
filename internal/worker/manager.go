package worker

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"userchat/internal/metrics"
	"userchat/internal/models"
	"userchat/internal/redis"
)

const (
	defaultQueueLen    = 16
	defaultIdleTimeout = 5 * time.Minute
)

var (
	ErrQueueFull       = errors.New("session queue full")
	ErrStopped         = errors.New("worker manager stopped")
	ErrSessionRequired = errors.New("session id required")
)

// Invoker runs one workflow turn. *assistant.Workflow satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, state *models.State, configurable map[string]any) (*models.Delta, error)
}

type TurnRequest struct {
	Context      context.Context
	SessionID    string
	Content      string
	Configurable map[string]any
}

type TurnResult struct {
	Reply    models.Message   `json:"reply"`
	Messages []models.Message `json:"messages"`
}

// Manager serializes turns per session: each session gets one goroutine that
// owns its transcript, so concurrent requests on a session never interleave.
type Manager struct {
	id          string
	workflow    Invoker
	state       *sessionState
	cache       *stateRedis
	queueLen    int
	idleTimeout time.Duration
	log         zerolog.Logger

	mu      sync.Mutex
	stopped bool
	workers map[string]*sessionWorker

	stopListener context.CancelFunc
}

type Option func(*Manager)

func WithQueueSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.queueLen = n
		}
	}
}

func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.idleTimeout = d
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = workerLogger(log) }
}

// WithRedis shares transcripts through client with the given TTL.
func WithRedis(client *redis.Client, ttl time.Duration) Option {
	return func(m *Manager) {
		if client != nil {
			m.cache = &stateRedis{client: client, ttl: ttl}
		}
	}
}

type sessionWorker struct {
	taskCh chan turnTask
	stopCh chan struct{}
}

type turnTask struct {
	req      TurnRequest
	purge    bool
	resultCh chan turnReturn
}

type turnReturn struct {
	result *TurnResult
	err    error
}

func NewManager(workflow Invoker, opts ...Option) (*Manager, error) {
	if workflow == nil {
		return nil, errors.New("workflow is required")
	}
	m := &Manager{
		id:          uuid.NewString(),
		workflow:    workflow,
		state:       newSessionState(),
		queueLen:    defaultQueueLen,
		idleTimeout: defaultIdleTimeout,
		log:         workerLogger(zerolog.Nop()),
		workers:     make(map[string]*sessionWorker),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cache != nil {
		m.cache = newStateCache(m.cache.client, m.cache.ttl, m.log)
		ctx, cancel := context.WithCancel(context.Background())
		if err := m.cache.startListener(ctx, m.handleInvalidation); err != nil {
			cancel()
			return nil, err
		}
		m.stopListener = cancel
	}
	return m, nil
}

// Turn appends req.Content to the session transcript, runs the workflow and
// returns the reply together with the updated transcript.
func (m *Manager) Turn(req TurnRequest) (*TurnResult, error) {
	if req.SessionID == "" {
		return nil, ErrSessionRequired
	}
	ctx := req.Context
	if ctx == nil {
		ctx = context.Background()
	}
	resultCh := make(chan turnReturn, 1)
	if err := m.enqueue(req.SessionID, turnTask{req: req, resultCh: resultCh}); err != nil {
		metrics.SessionTurns.WithLabelValues(metrics.StatusError).Inc()
		return nil, err
	}
	select {
	case ret := <-resultCh:
		return ret.result, ret.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// History returns the cached transcript of sessionID.
func (m *Manager) History(sessionID string) ([]models.Message, bool) {
	if history, ok := m.state.getHistory(sessionID); ok {
		return history, true
	}
	history, ok := m.cache.loadHistory(sessionID)
	if ok {
		m.state.setHistory(sessionID, history)
	}
	return history, ok
}

// Purge drops the session transcript after any queued turns finish.
func (m *Manager) Purge(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrSessionRequired
	}
	done := make(chan turnReturn, 1)
	if err := m.enqueue(sessionID, turnTask{purge: true, resultCh: done}); err != nil {
		return err
	}
	select {
	case ret := <-done:
		return ret.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop terminates every session worker. Queued turns fail with ErrStopped.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	for sessionID, w := range m.workers {
		close(w.stopCh)
		delete(m.workers, sessionID)
	}
	m.mu.Unlock()

	if m.stopListener != nil {
		m.stopListener()
	}
	m.state.reset()
}

func (m *Manager) enqueue(sessionID string, task turnTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrStopped
	}
	w, ok := m.workers[sessionID]
	if !ok {
		w = &sessionWorker{
			taskCh: make(chan turnTask, m.queueLen),
			stopCh: make(chan struct{}),
		}
		m.workers[sessionID] = w
		go m.runWorker(sessionID, w)
	}
	select {
	case w.taskCh <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

func (m *Manager) runWorker(sessionID string, w *sessionWorker) {
	m.log.Debug().Str("session_id", sessionID).Msg("session worker started")
	idle := time.NewTimer(m.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-w.stopCh:
			m.drain(w)
			m.log.Debug().Str("session_id", sessionID).Msg("session worker stopped")
			return
		case task := <-w.taskCh:
			select {
			case <-w.stopCh:
				task.resultCh <- turnReturn{err: ErrStopped}
				m.drain(w)
				m.log.Debug().Str("session_id", sessionID).Msg("session worker stopped")
				return
			default:
			}
			if task.purge {
				m.handlePurge(sessionID, task)
			} else {
				m.handleTurn(sessionID, task)
			}
			idle.Reset(m.idleTimeout)
		case <-idle.C:
			if m.retire(sessionID, w) {
				m.log.Debug().Str("session_id", sessionID).Msg("session worker idle, exiting")
				return
			}
			idle.Reset(m.idleTimeout)
		}
	}
}

// retire removes an idle worker unless a task slipped in.
func (m *Manager) retire(sessionID string, w *sessionWorker) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.workers[sessionID] != w || len(w.taskCh) > 0 {
		return false
	}
	delete(m.workers, sessionID)
	return true
}

func (m *Manager) drain(w *sessionWorker) {
	for {
		select {
		case task := <-w.taskCh:
			task.resultCh <- turnReturn{err: ErrStopped}
		default:
			return
		}
	}
}

func (m *Manager) handleTurn(sessionID string, task turnTask) {
	req := task.req
	ctx := req.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		task.resultCh <- turnReturn{err: err}
		return
	}

	state := &models.State{
		Messages:       m.loadHistory(sessionID),
		CurrentMessage: req.Content,
	}
	delta, err := m.workflow.Invoke(ctx, state, req.Configurable)
	if err != nil {
		metrics.SessionTurns.WithLabelValues(metrics.StatusError).Inc()
		m.log.Error().Err(err).Str("session_id", sessionID).Msg("turn failed")
		task.resultCh <- turnReturn{err: err}
		return
	}
	state.Apply(delta)
	m.storeHistory(sessionID, state.Messages)

	result := &TurnResult{Messages: slices.Clone(state.Messages)}
	if n := len(state.Messages); n > 0 {
		result.Reply = state.Messages[n-1]
	}
	metrics.SessionTurns.WithLabelValues(metrics.StatusOK).Inc()
	m.log.Debug().Str("session_id", sessionID).Int("messages", len(result.Messages)).Msg("turn complete")
	task.resultCh <- turnReturn{result: result}
}

func (m *Manager) handlePurge(sessionID string, task turnTask) {
	m.state.purge(sessionID)
	m.cache.invalidateHistory(sessionID)
	m.cache.publishInvalidation(invalidateMessage{SessionID: sessionID, Origin: m.id})
	task.resultCh <- turnReturn{}
}

func (m *Manager) loadHistory(sessionID string) []models.Message {
	history, _ := m.History(sessionID)
	return history
}

func (m *Manager) storeHistory(sessionID string, history []models.Message) {
	m.state.setHistory(sessionID, history)
	m.cache.cacheHistory(sessionID, history)
	m.cache.publishInvalidation(invalidateMessage{SessionID: sessionID, Origin: m.id})
}

// handleInvalidation drops local copies that another process has replaced.
func (m *Manager) handleInvalidation(msg invalidateMessage) {
	if msg.Origin == m.id || msg.SessionID == "" {
		return
	}
	m.state.purge(msg.SessionID)
}
