// Package session owns the gateway's single WhatsApp session.
//
// Ownership boundary:
// - session state machine (idle -> connecting -> awaiting_pairing -> ready -> closing -> idle)
// - disconnect classification and reconnect scheduling
// - generation tagging of transport handles
// - credential persistence on creds-updated events
//
// All transport events, open results, and retry timers are processed by one
// goroutine in arrival order. Readers (State, IsReady, Lease) take a read
// lock and never wait on that goroutine.
//
// Every connect attempt gets a new generation. Events, open results, and
// retries carrying an older generation are dropped, and sends must present
// the generation of the lease they were given.
//
// Only a logged-out close is fatal. Shutdown (Stop) closes the live handle
// without logging out and is never classified.
package session
