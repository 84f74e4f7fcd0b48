package hub

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"avito-realtime-relay/internal/infrastructure/logger"
	"avito-realtime-relay/internal/infrastructure/metrics"
)

var (
	ErrAlreadyRunning = errors.New("registry is already running")
	ErrNotRunning     = errors.New("registry is not running")
)

// entry is the registry's non-owning handle on a live connection.
type entry struct {
	userID string
	jobIDs []string
	send   chan<- []byte
}

// offer performs a single non-blocking push. A full queue drops the message
// for this connection only.
func (e *entry) offer(message []byte) bool {
	select {
	case e.send <- message:
		return true
	default:
		return false
	}
}

// ConnectionInfo describes a registered connection for status endpoints.
type ConnectionInfo struct {
	ID     string   `json:"id"`
	UserID string   `json:"user_id"`
	JobIDs []string `json:"request_ids,omitempty"`
}

// Registry maps connection ids to outbound queues and keeps two secondary
// indexes, by user id and by job (request) id, for targeted delivery.
//
// Every enqueue happens under the read lock, so once Deregister returns no
// sender can still hold that connection's queue. The connections gauge is
// set under the write lock so concurrent updates land in order.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*entry
	users       map[string][]string
	jobs        map[string][]string

	running   bool
	runningMu sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc

	logger  logger.Logger
	metrics *metrics.Metrics
}

type Option func(*Registry)

// WithMetrics records connection counts and delivery outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// New creates an empty, stopped registry.
func New(log logger.Logger, opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		connections: make(map[string]*entry),
		users:       make(map[string][]string),
		jobs:        make(map[string][]string),
		ctx:         ctx,
		cancel:      cancel,
		logger:      log.WithField("component", "registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start marks the registry as accepting connections. Done is closed when ctx
// is cancelled or Stop is called.
func (r *Registry) Start(ctx context.Context) error {
	r.runningMu.Lock()
	defer r.runningMu.Unlock()

	if r.running {
		return ErrAlreadyRunning
	}

	r.cancel()
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.running = true

	r.logger.Info("Registry started")
	return nil
}

// Stop signals every connection adapter to terminate and waits until they
// have deregistered or ctx expires. Whatever is left is dropped.
func (r *Registry) Stop(ctx context.Context) error {
	r.runningMu.Lock()
	if !r.running {
		r.runningMu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.runningMu.Unlock()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for r.ConnectionCount() > 0 {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			r.mu.Lock()
			left := len(r.connections)
			r.connections = make(map[string]*entry)
			r.users = make(map[string][]string)
			r.jobs = make(map[string][]string)
			r.metrics.SetConnections(0)
			r.mu.Unlock()
			r.logger.Warnf("Registry stopped with %d connections still attached", left)
			return nil
		}
	}

	r.logger.Info("Registry stopped")
	return nil
}

func (r *Registry) IsRunning() bool {
	r.runningMu.RLock()
	defer r.runningMu.RUnlock()
	return r.running
}

// Done is closed when the registry shuts down. Adapters select on it to end
// their connection.
func (r *Registry) Done() <-chan struct{} {
	r.runningMu.RLock()
	defer r.runningMu.RUnlock()
	return r.ctx.Done()
}

// Register adds a connection under userID. Registering an id again replaces
// its queue and user, keeps its job registrations, and never duplicates an
// index entry.
func (r *Registry) Register(connID, userID string, send chan<- []byte) {
	if userID == "" {
		userID = AnonymousUserID
	}

	r.mu.Lock()
	var jobIDs []string
	if old, ok := r.connections[connID]; ok {
		r.strip(r.users, old.userID, connID)
		jobIDs = old.jobIDs
		r.logger.Warnf("Connection %s registered twice; replacing previous entry", connID)
	}
	r.connections[connID] = &entry{userID: userID, jobIDs: jobIDs, send: send}
	r.users[userID] = append(r.users[userID], connID)
	count := len(r.connections)
	r.metrics.SetConnections(count)
	r.mu.Unlock()

	r.logger.Infof("Connection %s registered (user: %s, connections: %d)", connID, userID, count)
}

// RegisterForJob indexes a registered connection under jobID. It reports
// false when the connection is unknown or jobID is empty.
func (r *Registry) RegisterForJob(connID, jobID string) bool {
	if jobID == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.connections[connID]
	if !ok {
		r.logger.Debugf("Ignoring job %s registration for unknown connection %s", jobID, connID)
		return false
	}
	if slices.Contains(e.jobIDs, jobID) {
		return true
	}
	e.jobIDs = append(e.jobIDs, jobID)
	r.jobs[jobID] = append(r.jobs[jobID], connID)

	r.logger.Debugf("Connection %s watching job %s", connID, jobID)
	return true
}

// Deregister removes a connection and every index entry that references it.
// Unknown ids are ignored.
func (r *Registry) Deregister(connID string) {
	r.mu.Lock()
	e, ok := r.connections[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.connections, connID)
	r.strip(r.users, e.userID, connID)
	for _, jobID := range e.jobIDs {
		r.strip(r.jobs, jobID, connID)
	}
	count := len(r.connections)
	r.metrics.SetConnections(count)
	r.mu.Unlock()

	r.logger.Infof("Connection %s deregistered (connections: %d)", connID, count)
}

// strip removes connID from index[key] and drops the key once empty.
// Callers hold the write lock.
func (r *Registry) strip(index map[string][]string, key, connID string) {
	ids := slices.DeleteFunc(index[key], func(id string) bool { return id == connID })
	if len(ids) == 0 {
		delete(index, key)
		return
	}
	index[key] = ids
}

// SendToAll enqueues message on every registered connection and returns how
// many queues accepted it.
func (r *Registry) SendToAll(message []byte) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	queued, dropped := 0, 0
	for _, e := range r.connections {
		if e.offer(message) {
			queued++
		} else {
			dropped++
		}
	}
	r.metrics.Delivered(metrics.TargetAll, queued, dropped)
	return queued
}

// SendToUser enqueues message on every connection of userID.
func (r *Registry) SendToUser(userID string, message []byte) int {
	return r.sendIndexed(r.users, metrics.TargetUser, userID, message)
}

// SendToJob enqueues message on every connection watching jobID.
func (r *Registry) SendToJob(jobID string, message []byte) int {
	return r.sendIndexed(r.jobs, metrics.TargetJob, jobID, message)
}

func (r *Registry) sendIndexed(index map[string][]string, target, key string, message []byte) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	queued, dropped := 0, 0
	for _, connID := range index[key] {
		e, ok := r.connections[connID]
		if !ok {
			continue
		}
		if e.offer(message) {
			queued++
		} else {
			dropped++
		}
	}
	if dropped > 0 {
		r.logger.Debugf("Dropped message for %d %s connections of %s: queue full", dropped, target, key)
	}
	r.metrics.Delivered(target, queued, dropped)
	return queued
}

// HasJobConnections reports whether any live connection watches jobID.
func (r *Registry) HasJobConnections(jobID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, connID := range r.jobs[jobID] {
		if _, ok := r.connections[connID]; ok {
			return true
		}
	}
	return false
}

func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// UserConnectionCount returns the number of live connections for userID.
func (r *Registry) UserConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID])
}

// Connections returns a snapshot of registered connections ordered by id.
func (r *Registry) Connections() []ConnectionInfo {
	r.mu.RLock()
	infos := make([]ConnectionInfo, 0, len(r.connections))
	for id, e := range r.connections {
		infos = append(infos, ConnectionInfo{
			ID:     id,
			UserID: e.userID,
			JobIDs: slices.Clone(e.jobIDs),
		})
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}
