// Package chat keeps one Twitch chat connection alive over a WebSocket.
//
// A Supervisor owns the connection state: the running flag, the joined
// channel and the outbound queue of the live session. Connect starts a
// reconnect loop in the background; each loop iteration runs one session:
//
//   - dial the chat endpoint through a Dialer,
//   - send the handshake (CAP REQ, PASS, NICK, JOIN) in that order,
//   - publish the session's Outbound so Send and Disconnect can reach it,
//   - run a reader (frames → lines → dispatcher) and a writer (Outbound →
//     socket) until one of them stops.
//
// The dispatcher answers PING, turns PRIVMSG/USERNOTICE/CLEARCHAT into
// events for an Emitter, and stops the loop on RECONNECT. Failed sessions are
// retried after a fixed backoff; repeated login failures stop the loop.
//
// Disconnect is cooperative: it clears the running flag, queues a PART and
// closes the Outbound, then cancels the loop context after a short grace
// period in case the server never answers.
package chat
