/*
Package reactor matches asynchronous server events to the commands
waiting for them.

The HPS protocol is not request/response: the client emits a named
event and the server answers, eventually, with a different named
event. The reactor turns that into blocking calls a command handler
can use.

# Request cycle

Simple verbs are one emit and one terminal event:

	search_content ──────────────▶ server
	                               │
	command blocks (≤30s)          │
	                               ▼
	◀────────────────────── search_results

Gated verbs pass through the mining gate first:

	request_pow_challenge ───────▶ server
	◀─────────────────────── pow_challenge
	        │
	        ▼ mine (≤600s)
	publish_content(nonce) ──────▶ server
	                               │
	command blocks (≤300s)         │
	                               ▼
	◀────────────────────── publish_result

# Concurrency model

Every terminal event has at most one waiter, and every PoW action type
has at most one pending gated verb. A second invocation of the same
verb while one is in flight fails immediately with ErrBusy rather than
queueing; the protocol has no request ids, so queued requests could
not be told apart on response.

Inbound events run on transport goroutines. Handlers only touch the
waiter and pending tables under the reactor mutex and hand results
over buffered channels, so a slow command never blocks the transport.

# Login

Login is the one flow spanning several events: the mutual handshake
(server_auth_challenge, verify_server_auth_response,
server_auth_result) chains into the login PoW gate and terminates at
authentication_result. The reactor re-runs the whole chain on every
reconnect so a dropped session heals without user action.
*/
package reactor
