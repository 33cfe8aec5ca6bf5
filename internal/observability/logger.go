package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SessionLogger returns a child of the global logger tagged with the session
// identity.
func SessionLogger(session, transport, peer string) zerolog.Logger {
	return log.With().
		Str("session", session).
		Str("transport", transport).
		Str("peer", peer).
		Logger()
}
