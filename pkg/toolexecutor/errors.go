package toolexecutor

import "fmt"

// ErrorKind classifies why a dispatch produced a failure observation
type ErrorKind string

const (
	KindNone                       ErrorKind = ""
	KindToolNotFound               ErrorKind = "tool_not_found"
	KindNoOnlineProvider           ErrorKind = "no_online_provider"
	KindProviderTransportFailure   ErrorKind = "provider_transport_failure"
	KindProviderApplicationFailure ErrorKind = "provider_application_failure"
	KindLocalExecutionFailure      ErrorKind = "local_execution_failure"
)

// RemoteError is returned by RemoteClient for failed remote executions
type RemoteError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	switch {
	case e.Kind == KindProviderApplicationFailure:
		return e.Message
	case e.StatusCode != 0:
		return fmt.Sprintf("remote call failed (HTTP %d)", e.StatusCode)
	default:
		return fmt.Sprintf("remote call failed: %s", e.Message)
	}
}
