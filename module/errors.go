package module

import "fmt"

// Error is a loader or decode failure (spec §7 "Loader errors", "Decode
// errors"). Offset is the byte position in the source being parsed when the
// failure occurred, for diagnostics; it is -1 when not applicable.
type Error struct {
	Op     string
	Msg    string
	Offset int
}

func (e *Error) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("module: %s: %s (at offset %d)", e.Op, e.Msg, e.Offset)
	}
	return fmt.Sprintf("module: %s: %s", e.Op, e.Msg)
}

func errf(op string, offset int, format string, args ...any) error {
	return &Error{Op: op, Msg: fmt.Sprintf(format, args...), Offset: offset}
}
