package daraja

import "fmt"

// AuthError means the provider rejected our credentials or the token
// endpoint was unreachable.
type AuthError struct {
	Cause error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("daraja auth failed: %v", e.Cause)
}

func (e *AuthError) Unwrap() error { return e.Cause }

// PushError wraps every STK push failure, provider rejection and transport
// fault alike. ProviderMessage carries the provider's description when one
// was returned; it is logged, never shown to end users.
type PushError struct {
	ProviderMessage string
	Cause           error
}

func (e *PushError) Error() string {
	if e.ProviderMessage != "" {
		return fmt.Sprintf("daraja stk push rejected: %s", e.ProviderMessage)
	}
	return fmt.Sprintf("daraja stk push failed: %v", e.Cause)
}

func (e *PushError) Unwrap() error { return e.Cause }

type QueryError struct {
	Cause error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("daraja status query failed: %v", e.Cause)
}

func (e *QueryError) Unwrap() error { return e.Cause }
