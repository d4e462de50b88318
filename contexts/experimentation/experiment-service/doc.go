// Package experimentservice contains the vivarium experiment engine.
//
// The engine advances a running experiment through the session layer:
// every state change happens inside a scoped or serialized transaction,
// and every event it announces rides the session outbox, so subscribers
// only ever see committed state.
package experimentservice
