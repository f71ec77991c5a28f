package audit

import (
	"errors"
	"fmt"
)

var (
	// ErrChainBroken indicates the audit file itself is corrupt: a
	// record failed to parse or a prev_sha256 does not match its
	// predecessor. No further writes are permitted.
	ErrChainBroken = errors.New("audit chain broken")

	// ErrClosed indicates the log has been closed.
	ErrClosed = errors.New("audit log is closed")
)

// TamperError reports that the observation file hash does not match the
// last audit record. Reads must not be served from a tampered store.
type TamperError struct {
	Expected string
	Actual   string
}

func (e *TamperError) Error() string {
	return fmt.Sprintf("tamper detected: observation log hash %s does not match audit record %s", e.Actual, e.Expected)
}

// IsTamper reports whether err is a TamperError.
func IsTamper(err error) bool {
	var te *TamperError
	return errors.As(err, &te)
}
