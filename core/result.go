package core

// Status tags the outcome of a lookup that may legitimately have no value.
type Status int

const (
	StatusPresent Status = iota
	// StatusUnavailable means the value is being computed and should be retried.
	StatusUnavailable
	// StatusNotFound means no such entity exists.
	StatusNotFound
)

func (s Status) String() string {
	switch s {
	case StatusPresent:
		return "present"
	case StatusUnavailable:
		return "unavailable"
	case StatusNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Result carries a value together with the reason it may be absent, so
// callers cannot confuse "still loading" with "does not exist".
type Result[T any] struct {
	Status Status
	Value  T
}

func Present[T any](v T) Result[T] { return Result[T]{Status: StatusPresent, Value: v} }

func Unavailable[T any]() Result[T] { return Result[T]{Status: StatusUnavailable} }

func NotFound[T any]() Result[T] { return Result[T]{Status: StatusNotFound} }

// Get returns the value and whether it is present.
func (r Result[T]) Get() (T, bool) { return r.Value, r.Status == StatusPresent }

func (r Result[T]) Ok() bool { return r.Status == StatusPresent }
