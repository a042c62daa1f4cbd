// Package tui provides the read-only dashboard behind `triad dashboard`
// and `triad start --watch`.
//
// The dashboard polls a Source for the selected session, its task graph
// and the tail of the event log. When it runs in the same process as the
// engine it can also follow an events.Emitter for live updates:
//
//	em := events.NewEmitter(256, log)
//	bus.Subscribe(events.Wildcard, em.Handler())
//	d := tui.NewDashboard(tui.NewStoreSource(db, log), tui.Options{Emitter: em})
//	tea.NewProgram(d, tea.WithAltScreen()).Run()
//
// Keys: tab cycles sessions, / filters the event log, q quits.
package tui
