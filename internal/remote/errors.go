package remote

import "fmt"

// HTTPError reports a non-2xx response from the metadata service.
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http status %d", e.Status)
}
