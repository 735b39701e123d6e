// Package gateway wires the session manager, outbound gateway, and HTTP
// surface into one runnable service.
//
// Facade is the only thing HTTP handlers and the CLI talk to. It resolves
// caller-supplied recipients against the configured own number before
// handing sends to outbound, and reads connection state through the
// manager's snapshot rather than any shared flag.
//
// Service owns process lifecycle: signal handling, heartbeat logging, HTTP
// serve/shutdown, and manager start/stop.
package gateway
