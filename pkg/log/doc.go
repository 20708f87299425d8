/*
Package log provides structured logging via zerolog.

Call Init once at startup, then derive child loggers with the With* helpers
so every line carries the component and document it concerns:

	log.Init(log.Config{Level: log.InfoLevel})
	logger := log.WithComponent("compactor")
	logger.Info().Str("note_id", noteID).Msg("Snapshot created")

Console output is the default; JSONOutput switches to machine-readable lines
for background agents.
*/
package log
