package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avito-realtime-relay/internal/infrastructure/hub"
	"avito-realtime-relay/internal/infrastructure/logger"
)

type client struct {
	id   string
	recv chan []byte
}

func register(r *hub.Registry, id, userID, jobID string) client {
	c := client{id: id, recv: make(chan []byte, 8)}
	r.Register(id, userID, c.recv)
	if jobID != "" {
		r.RegisterForJob(id, jobID)
	}
	return c
}

func received(c client) []string {
	var out []string
	for {
		select {
		case m := <-c.recv:
			out = append(out, string(m))
		default:
			return out
		}
	}
}

func TestRouter_Route(t *testing.T) {
	reg := hub.New(logger.Nop())
	register(reg, "c1", "u1", "j1")
	router := NewRouter(reg, logger.Nop())

	tests := []struct {
		name string
		body string
		want Decision
	}{
		{name: "live job", body: `{"request_id":"j1","user_id":"u1"}`, want: Decision{Target: TargetJob, Key: "j1"}},
		{name: "job without watchers falls back to user", body: `{"request_id":"j2","request_data":{"user_id":"u1"}}`, want: Decision{Target: TargetUser, Key: "u1"}},
		{name: "job without watchers or user", body: `{"request_id":"j2"}`, want: Decision{Target: TargetBroadcast}},
		{name: "user only", body: `{"user_id":"u7"}`, want: Decision{Target: TargetUser, Key: "u7"}},
		{name: "no identities", body: `{"foo":"bar"}`, want: Decision{Target: TargetBroadcast}},
		{name: "raw", body: `<<garbage>>`, want: Decision{Target: TargetBroadcast}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, router.Route(Decode([]byte(tt.body))))
		})
	}
}

func TestRouter_JobConnectionOnly(t *testing.T) {
	reg := hub.New(logger.Nop())
	watcher := register(reg, "c1", "", "job-42")
	other := register(reg, "c2", "u9", "")
	router := NewRouter(reg, logger.Nop())

	msg := `{"request_id":"job-42","progress":50}`
	d, n := router.Dispatch(Decode([]byte(msg)))

	assert.Equal(t, TargetJob, d.Target)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{msg}, received(watcher))
	assert.Empty(t, received(other))
}

func TestRouter_UserFallback(t *testing.T) {
	reg := hub.New(logger.Nop())
	mine := register(reg, "c1", "u9", "")
	theirs := register(reg, "c2", "u10", "")
	router := NewRouter(reg, logger.Nop())

	msg := `{"user_id":"u9","status":"done"}`
	_, n := router.Dispatch(Decode([]byte(msg)))

	assert.Equal(t, 1, n)
	assert.Equal(t, []string{msg}, received(mine))
	assert.Empty(t, received(theirs))
}

func TestRouter_NestedUserOnlyWithoutJobWatchers(t *testing.T) {
	reg := hub.New(logger.Nop())
	byUser := register(reg, "c2", "u1", "")
	router := NewRouter(reg, logger.Nop())
	msg := []byte(`{"request_id":"j1","request_data":{"user_id":"u1"}}`)

	// Nobody watches j1 yet: the user connection gets it.
	d, _ := router.Dispatch(Decode(msg))
	assert.Equal(t, TargetUser, d.Target)
	assert.Len(t, received(byUser), 1)

	// Once j1 has a watcher the user path is no longer used.
	byJob := register(reg, "c1", "other", "j1")
	d, _ = router.Dispatch(Decode(msg))
	assert.Equal(t, TargetJob, d.Target)
	assert.Len(t, received(byJob), 1)
	assert.Empty(t, received(byUser))
}

func TestRouter_BroadcastWithoutIdentity(t *testing.T) {
	reg := hub.New(logger.Nop())
	clients := []client{
		register(reg, "c1", "u1", ""),
		register(reg, "c2", "u2", "j2"),
		register(reg, "c3", "", ""),
	}
	router := NewRouter(reg, logger.Nop())

	d, n := router.Dispatch(Decode([]byte(`{"foo":"bar"}`)))
	require.Equal(t, TargetBroadcast, d.Target)
	assert.Equal(t, len(clients), n)
	for _, c := range clients {
		assert.Equal(t, []string{`{"foo":"bar"}`}, received(c), c.id)
	}
}

func TestRouter_RawBroadcastUnchanged(t *testing.T) {
	reg := hub.New(logger.Nop())
	c := register(reg, "c1", "u1", "j1")
	router := NewRouter(reg, logger.Nop())

	_, n := router.Dispatch(Decode([]byte("plain text progress")))
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"plain text progress"}, received(c))
}
