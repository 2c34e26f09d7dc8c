// Package store provides persistent storage for botkeeper using SQLite.
//
// # Architecture
//
// Store is the interface; SQLiteStore implements it on modernc.org/sqlite
// (pure Go, no cgo) and MockStore implements it in memory for tests.
//
// # Data Model
//
// The only table is agent_events, an append-only ledger of agent lifecycle
// transitions:
//
//   - start, stop: control API calls
//   - connecting, spawned: session progress
//   - ended, kicked, errored: disconnects
//   - reconnect_scheduled, reconnect_attempt, reconnect_exhausted: campaigns
//   - moved: random wander goals
//
// Timestamps are stored as fixed-width RFC3339 text in UTC. ListAgentEvents returns rows
// newest first with a default limit of 50 and a maximum of 500.
//
// # Usage
//
//	s, err := store.NewSQLiteStore("~/.local/share/botkeeper/botkeeper.db")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	events, err := s.ListAgentEvents(ctx, store.ListEventsParams{Limit: 20})
package store
