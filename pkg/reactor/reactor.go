package reactor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hsyst/hps-cli/pkg/metrics"
	"github.com/hsyst/hps-cli/pkg/pow"
	"github.com/hsyst/hps-cli/pkg/session"
	"github.com/hsyst/hps-cli/pkg/types"
)

const (
	// SimpleTimeout bounds verbs with no mining gate.
	SimpleTimeout = 30 * time.Second
	// GatedTimeout bounds verbs that must mine before emitting.
	GatedTimeout = 300 * time.Second
)

// Emitter sends one named event to the server.
type Emitter interface {
	Emit(event string, data any) error
}

// BuildFunc assembles a gated verb's payload once its nonce is found.
// It returns the event name to emit alongside the payload.
type BuildFunc func(powNonce string, hashrate float64) (event string, payload any, err error)

type result struct {
	data json.RawMessage
	err  error
}

// pending is an in-flight gated verb waiting for its pow_challenge.
type pending struct {
	ctx      context.Context
	terminal string
	build    BuildFunc
}

// Config wires a Reactor to its collaborators.
type Config struct {
	Emitter Emitter
	Session *session.Session
	Miner   *pow.Miner
	Logger  zerolog.Logger
	// PowSolved fires after every successful mine, for durable counters.
	PowSolved func(action types.ActionType, res *pow.Result)
}

// Reactor matches asynchronous server events to the commands that are
// waiting for them. Each terminal event has at most one waiter, and
// each PoW action type has at most one pending gated verb; a second
// invocation fails fast with ErrBusy instead of queueing.
type Reactor struct {
	em        Emitter
	sess      *session.Session
	miner     *pow.Miner
	log       zerolog.Logger
	powSolved func(types.ActionType, *pow.Result)

	mu      sync.Mutex
	waiters map[string]chan result
	pending map[types.ActionType]*pending
}

// New creates a Reactor. Handlers still need wiring via Register.
func New(cfg Config) *Reactor {
	return &Reactor{
		em:        cfg.Emitter,
		sess:      cfg.Session,
		miner:     cfg.Miner,
		log:       cfg.Logger,
		powSolved: cfg.PowSolved,
		waiters:   make(map[string]chan result),
		pending:   make(map[types.ActionType]*pending),
	}
}

// Register wires every inbound event the reactor understands. The
// callback signature matches transport.Conn.On.
func (r *Reactor) Register(on func(event string, h func(json.RawMessage))) {
	on(types.EvServerAuthChallenge, r.HandleServerAuthChallenge)
	on(types.EvServerAuthResult, r.HandleServerAuthResult)
	on(types.EvPowChallenge, r.HandlePowChallenge)
	on(types.EvAuthenticationResult, r.HandleAuthenticationResult)

	for _, ev := range []string{
		types.EvContentResponse,
		types.EvPublishResult,
		types.EvDNSResult,
		types.EvDNSResolution,
		types.EvSearchResults,
		types.EvNetworkState,
		types.EvReportResult,
	} {
		on(ev, r.Deliver(ev))
	}
}

func (r *Reactor) arm(event string) (chan result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.waiters[event]; exists {
		return nil, fmt.Errorf("%s: %w", event, types.ErrBusy)
	}
	ch := make(chan result, 1)
	r.waiters[event] = ch
	return ch, nil
}

func (r *Reactor) disarm(event string, ch chan result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.waiters[event] == ch {
		delete(r.waiters, event)
	}
}

func (r *Reactor) deliver(event string, data json.RawMessage, err error) {
	r.mu.Lock()
	ch := r.waiters[event]
	delete(r.waiters, event)
	r.mu.Unlock()

	if ch == nil {
		r.log.Debug().Str("event", event).Msg("terminal event with no waiter")
		return
	}
	ch <- result{data: data, err: err}
}

// Deliver returns a handler that completes the waiter for event.
func (r *Reactor) Deliver(event string) func(json.RawMessage) {
	return func(data json.RawMessage) {
		r.deliver(event, data, nil)
	}
}

func (r *Reactor) await(ctx context.Context, event string, ch chan result, timeout time.Duration) (json.RawMessage, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case res := <-ch:
		return res.data, res.err
	case <-ctx.Done():
		r.disarm(event, ch)
		return nil, ctx.Err()
	case <-t.C:
		r.disarm(event, ch)
		return nil, fmt.Errorf("%s: %w", event, types.ErrRequestTimeout)
	}
}

// Call emits a simple verb and waits for its terminal event.
func (r *Reactor) Call(ctx context.Context, event string, payload any, terminal string) (json.RawMessage, error) {
	ch, err := r.arm(terminal)
	if err != nil {
		return nil, err
	}
	if err := r.em.Emit(event, payload); err != nil {
		r.disarm(terminal, ch)
		return nil, err
	}
	return r.await(ctx, terminal, ch, SimpleTimeout)
}

// CallGated runs the mining-gated request cycle for action: request a
// challenge, mine it when it arrives, emit the built payload, and wait
// for the terminal event.
func (r *Reactor) CallGated(ctx context.Context, action types.ActionType, terminal string, build BuildFunc) (json.RawMessage, error) {
	r.mu.Lock()
	if _, exists := r.pending[action]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", action, types.ErrBusy)
	}
	r.pending[action] = &pending{ctx: ctx, terminal: terminal, build: build}
	r.mu.Unlock()
	defer r.clearPending(action)

	ch, err := r.arm(terminal)
	if err != nil {
		return nil, err
	}

	req := &types.PowChallengeRequest{
		ClientIdentifier: r.sess.ClientIdentifier,
		ActionType:       action,
	}
	if err := r.em.Emit(types.EvRequestPowChallenge, req); err != nil {
		r.disarm(terminal, ch)
		return nil, err
	}
	return r.await(ctx, terminal, ch, GatedTimeout)
}

func (r *Reactor) clearPending(action types.ActionType) {
	r.mu.Lock()
	delete(r.pending, action)
	r.mu.Unlock()
}

func (r *Reactor) takePending(action types.ActionType) *pending {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.pending[action]
	delete(r.pending, action)
	return p
}

// HandlePowChallenge mines an inbound challenge and emits the payload
// of whichever verb requested it.
func (r *Reactor) HandlePowChallenge(data json.RawMessage) {
	var ch types.PowChallenge
	if err := json.Unmarshal(data, &ch); err != nil {
		r.log.Warn().Err(err).Msg("malformed pow challenge")
		return
	}
	// Older servers omit action_type on the login challenge.
	if ch.ActionType == "" {
		ch.ActionType = types.ActionLogin
	}

	p := r.takePending(ch.ActionType)
	if p == nil {
		r.log.Debug().Str("action", string(ch.ActionType)).Msg("pow challenge with no pending verb")
		return
	}

	if ch.Error != "" {
		var err error = &types.ServerError{Message: ch.Error}
		if ch.BlockedUntil > 0 {
			until := time.Unix(int64(ch.BlockedUntil), 0)
			r.sess.SetBanned(until, ch.Error)
			err = &types.BannedError{Until: until, Reason: ch.Error}
		}
		r.deliver(p.terminal, nil, err)
		return
	}

	res, err := r.miner.Solve(p.ctx, ch.Challenge, ch.TargetBits, ch.TargetSeconds, ch.ActionType)
	if err != nil {
		r.deliver(p.terminal, nil, err)
		return
	}

	metrics.PowSolvedTotal.Inc()
	metrics.PowHashesTotal.Add(float64(res.Hashes))
	metrics.PowSeconds.Add(res.Elapsed.Seconds())
	if r.powSolved != nil {
		r.powSolved(ch.ActionType, res)
	}

	event, payload, err := p.build(res.NonceString(), res.Hashrate)
	if err != nil {
		r.deliver(p.terminal, nil, err)
		return
	}
	if err := r.em.Emit(event, payload); err != nil {
		r.deliver(p.terminal, nil, err)
	}
}

// ArmLogin prepares an interactive login and returns a wait function
// for its terminal event. The handshake itself starts when the
// transport connects and OnConnected fires.
func (r *Reactor) ArmLogin(ctx context.Context) (func() (*types.AuthenticationResult, error), error) {
	ch, err := r.arm(types.EvAuthenticationResult)
	if err != nil {
		return nil, err
	}
	return func() (*types.AuthenticationResult, error) {
		// A login pending context may have been registered by the
		// handshake; drop it when the wait ends so a timed-out or
		// cancelled attempt cannot wedge the next one.
		defer r.clearPending(types.ActionLogin)

		data, err := r.await(ctx, types.EvAuthenticationResult, ch, GatedTimeout)
		if err != nil {
			return nil, err
		}
		var res types.AuthenticationResult
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, fmt.Errorf("malformed authentication result: %w", err)
		}
		return &res, nil
	}, nil
}

// AbortLogin fails the armed login waiter, if any. Used when the
// transport cannot even connect.
func (r *Reactor) AbortLogin(err error) {
	r.clearPending(types.ActionLogin)
	r.deliver(types.EvAuthenticationResult, nil, err)
}

// OnConnected restarts the mutual-auth handshake. Fired on every
// connect, including reconnects, so a dropped session re-authenticates
// without user action.
func (r *Reactor) OnConnected() {
	if err := r.em.Emit(types.EvRequestServerAuthChallenge, struct{}{}); err != nil {
		r.log.Warn().Err(err).Msg("failed to request auth challenge")
	}
}

// HandleServerAuthChallenge verifies the server identity and answers
// with the client half of the handshake. A bad server signature aborts
// the login.
func (r *Reactor) HandleServerAuthChallenge(data json.RawMessage) {
	var msg types.ServerAuthChallenge
	if err := json.Unmarshal(data, &msg); err != nil {
		r.log.Warn().Err(err).Msg("malformed server auth challenge")
		return
	}

	resp, err := r.sess.HandleServerAuthChallenge(&msg)
	if err != nil {
		r.log.Error().Err(err).Msg("server authentication failed")
		r.deliver(types.EvAuthenticationResult, nil, err)
		return
	}
	if err := r.em.Emit(types.EvVerifyServerAuthResponse, resp); err != nil {
		r.deliver(types.EvAuthenticationResult, nil, err)
	}
}

// HandleServerAuthResult chains the handshake into the login PoW gate.
func (r *Reactor) HandleServerAuthResult(data json.RawMessage) {
	var msg types.ServerAuthResult
	if err := json.Unmarshal(data, &msg); err != nil {
		r.log.Warn().Err(err).Msg("malformed server auth result")
		return
	}
	if !msg.Success {
		r.deliver(types.EvAuthenticationResult, nil,
			fmt.Errorf("server rejected client challenge: %s: %w", msg.Error, types.ErrInvalidSignature))
		return
	}

	r.mu.Lock()
	_, exists := r.pending[types.ActionLogin]
	if !exists {
		r.pending[types.ActionLogin] = &pending{
			ctx:      context.Background(),
			terminal: types.EvAuthenticationResult,
			build: func(nonce string, hashrate float64) (string, any, error) {
				payload, err := r.sess.BuildAuthenticate(nonce, hashrate)
				return types.EvAuthenticate, payload, err
			},
		}
	}
	r.mu.Unlock()
	if exists {
		return
	}

	req := &types.PowChallengeRequest{
		ClientIdentifier: r.sess.ClientIdentifier,
		ActionType:       types.ActionLogin,
	}
	if err := r.em.Emit(types.EvRequestPowChallenge, req); err != nil {
		r.clearPending(types.ActionLogin)
		r.deliver(types.EvAuthenticationResult, nil, err)
	}
}

// HandleAuthenticationResult records the login outcome and completes
// the waiter, if any. On success it also announces the node and
// re-advertises the local cache.
func (r *Reactor) HandleAuthenticationResult(data json.RawMessage) {
	var msg types.AuthenticationResult
	if err := json.Unmarshal(data, &msg); err != nil {
		r.log.Warn().Err(err).Msg("malformed authentication result")
		return
	}
	if msg.Success {
		r.sess.SetAuthenticated(msg.Username, msg.Reputation)
		if err := r.em.Emit(types.EvJoinNetwork, r.sess.BuildJoinNetwork()); err != nil {
			r.log.Warn().Err(err).Msg("failed to join network")
		}
	}
	r.deliver(types.EvAuthenticationResult, data, nil)
}
