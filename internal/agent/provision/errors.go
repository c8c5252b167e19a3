package provision

import "fmt"

// ProvisionError reports a failed download. StatusCode is zero when the
// failure happened before or after the HTTP exchange.
type ProvisionError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *ProvisionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s failed with status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("download %s failed: %v", e.URL, e.Err)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}
