package crex

import "fmt"

// Attaches err to the sentinel.
//
// The result matches both sentinel and err under [errors.Is]. A nil err
// returns the sentinel itself.
func Wrap(sentinel, err error) error {
	if err == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Attaches a formatted message to the sentinel.
//
// The format may itself contain %w verbs, in which case the wrapped errors
// are also reachable through [errors.Is].
func Wrapf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{sentinel}, args...)...)
}
