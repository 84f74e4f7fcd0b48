package relay

import (
	"avito-realtime-relay/internal/infrastructure/logger"
)

// Registry is the delivery side of the connection registry.
type Registry interface {
	SendToAll(message []byte) int
	SendToUser(userID string, message []byte) int
	SendToJob(jobID string, message []byte) int
	HasJobConnections(jobID string) bool
}

type Target int

const (
	TargetBroadcast Target = iota
	TargetUser
	TargetJob
)

func (t Target) String() string {
	switch t {
	case TargetUser:
		return "user"
	case TargetJob:
		return "job"
	default:
		return "all"
	}
}

// Decision is where an envelope goes. Key is the user or job id, empty for a
// broadcast.
type Decision struct {
	Target Target
	Key    string
}

// Router picks the most specific live audience for an envelope: watchers of
// its job, then its user's connections, then everyone.
type Router struct {
	registry Registry
	logger   logger.Logger
}

func NewRouter(registry Registry, log logger.Logger) *Router {
	return &Router{
		registry: registry,
		logger:   log.WithField("component", "router"),
	}
}

// Route decides the target without delivering.
func (r *Router) Route(env Envelope) Decision {
	if env.Kind == KindRaw {
		return Decision{Target: TargetBroadcast}
	}

	if env.RequestID != "" && r.registry.HasJobConnections(env.RequestID) {
		return Decision{Target: TargetJob, Key: env.RequestID}
	}

	if env.UserID != "" {
		return Decision{Target: TargetUser, Key: env.UserID}
	}

	return Decision{Target: TargetBroadcast}
}

// Dispatch routes env and enqueues its body. It returns the decision and the
// number of connections that accepted the message.
func (r *Router) Dispatch(env Envelope) (Decision, int) {
	d := r.Route(env)

	var n int
	switch d.Target {
	case TargetJob:
		n = r.registry.SendToJob(d.Key, env.Body)
	case TargetUser:
		if env.RequestID != "" {
			r.logger.Debugf("No connections for request %s, falling back to user %s", env.RequestID, d.Key)
		}
		n = r.registry.SendToUser(d.Key, env.Body)
	default:
		n = r.registry.SendToAll(env.Body)
	}

	r.logger.Debugf("Dispatched %s message to %s %s (%d connections)", env.Kind, d.Target, d.Key, n)
	return d, n
}
