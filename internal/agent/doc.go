// Package agent supervises the single game-world agent.
//
// # Overview
//
// The Supervisor owns at most one Handle at a time. A Handle is created by
// Start (or by a reconnect attempt), dials a Session through the Dialer, and
// is destroyed by Stop or by the session's end, kick, or error.
//
//	sup := agent.NewSupervisor(agent.SupervisorConfig{
//	    Dialer: driver.NewDialer(cfg.Driver.URL, logger),
//	    Bot:    agent.Options{Username: "RIDER420", Host: "example.net", Port: 25565},
//	})
//
// Key operations:
//
//   - Start(ctx): create a handle; ErrAlreadyRunning if one exists
//   - Stop(ctx): disconnect and clear the handle; ErrNotRunning if none exists
//   - Status(): snapshot of the handle and any reconnect campaign
//
// # Reconnect Campaigns
//
// When a handle disconnects, the Supervisor waits the reconnect delay (5s by
// default) and creates a fresh handle, up to the maximum attempts (5 by
// default). A campaign continues while the handles it creates fail before
// spawning, and is discarded when one spawns. Manual Start and Stop cancel it.
//
// # Movement
//
// Once spawned, the agent greets the server and, every movement interval,
// navigates toward a random block with x and z in [-500, 500) and y = 64.
//
// # Thread Safety
//
// Supervisor state is guarded by a single mutex. Lifecycle events for a handle
// are consumed by one goroutine in arrival order; events for a handle that is
// no longer current are ignored. Timers come from the injected tstime.Clock.
package agent
