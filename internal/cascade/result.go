package cascade

import "github.com/sells-group/grant-funnel/internal/completion"

// Result holds either a stage value or the call failure that prevented
// it. The failure branch is resolved with OrElse and a pure fallback.
type Result[T any] struct {
	value   T
	failure *completion.CallFailure
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Failed wraps a call failure.
func Failed[T any](f *completion.CallFailure) Result[T] {
	return Result[T]{failure: f}
}

// Value returns the value and whether the result succeeded.
func (r Result[T]) Value() (T, bool) {
	return r.value, r.failure == nil
}

// Failure returns the failure, or nil on success.
func (r Result[T]) Failure() *completion.CallFailure {
	return r.failure
}

// OrElse returns the value, or fallback(failure) on the failure branch.
func (r Result[T]) OrElse(fallback func(*completion.CallFailure) T) T {
	if r.failure != nil {
		return fallback(r.failure)
	}
	return r.value
}
