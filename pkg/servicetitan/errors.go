package servicetitan

import "fmt"

// AuthError reports a failed client-credentials exchange. It is fatal to a run.
type AuthError struct {
	Status int
	Body   string
	Err    error
}

func (e *AuthError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("servicetitan: auth: %v", e.Err)
	case e.Status != 0:
		return fmt.Sprintf("servicetitan: auth: unexpected status %d: %s", e.Status, e.Body)
	default:
		return "servicetitan: auth failed"
	}
}

func (e *AuthError) Unwrap() error { return e.Err }

// FetchError reports a page or batch request that could not be completed.
// Status is zero when no HTTP response was received.
type FetchError struct {
	Entity string
	Page   int
	Status int
	Body   string
	Err    error
}

func (e *FetchError) Error() string {
	where := e.Entity
	if e.Page > 0 {
		where = fmt.Sprintf("%s page %d", e.Entity, e.Page)
	}
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("servicetitan: fetch %s: status %d: %v", where, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("servicetitan: fetch %s: unexpected status %d: %s", where, e.Status, e.Body)
	default:
		return fmt.Sprintf("servicetitan: fetch %s: %v", where, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// PartialDataWarning describes a collection that ended early but kept what
// it had gathered. It is logged, never returned as a failure.
type PartialDataWarning struct {
	Entity string
	Reason string
	Pages  int
	Items  int
}

func (w *PartialDataWarning) Error() string {
	return fmt.Sprintf("servicetitan: partial %s data after %d pages (%d items): %s", w.Entity, w.Pages, w.Items, w.Reason)
}
