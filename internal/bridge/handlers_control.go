package bridge

import (
	"context"
)

// TerminateResult answers the terminate operation.
type TerminateResult struct {
	Terminated        bool `json:"terminated"`
	AlreadyTerminated bool `json:"already_terminated"`
}

// handleTerminate ends the session. Repeated calls succeed without effect,
// and the host is asked to shut down only once. Shutdown runs after the
// handler returns so the response can still be delivered.
func handleTerminate(_ context.Context, env *Env, _ *Request) (any, error) {
	already, err := env.Session.Terminate()
	if already {
		return TerminateResult{Terminated: true, AlreadyTerminated: true}, nil
	}
	if err != nil {
		// The session is gone either way; report the close failure in the log.
		env.Logger.Warn().Err(err).Msg("Engine did not close cleanly")
	}

	env.Logger.Info().Str("session_id", env.Session.ID()).Msg("Session terminated")
	go env.Host.Shutdown()

	return TerminateResult{Terminated: true}, nil
}
