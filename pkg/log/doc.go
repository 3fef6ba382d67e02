/*
Package log provides structured logging for the helper runtime using
zerolog.

# Usage

Initializing the logger:

	import "github.com/ipaproto/helper/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Simple logging:

	log.Info("helper started")
	log.Warn("gateway send buffer near high-water mark")
	log.Error("query failed")

Context loggers:

	queryLog := log.WithQueryID(queryID.String())
	queryLog.Info().Str("role", role.String()).Msg("query prepared")

	stepLog := log.WithStep(step.String()).
		With().Str("query_id", queryID.String()).Logger()
	stepLog.Debug().Msg("channel opened")

# Design

One package-level zerolog.Logger, initialized once via Init and read
concurrently thereafter. WithComponent/WithQueryID/WithRole/WithStep
return child loggers carrying one extra field each; callers chain
`.With()` calls to add more than one.
*/
package log
