// utils/http.go
package utils

import (
	"net/http"
	"time"
)

const (
	RequestTimeout = 10 * time.Second
	ProbeTimeout   = 5 * time.Second
)

// HTTPClient is shared by calls to the match service.
var HTTPClient = &http.Client{
	Timeout: RequestTimeout,
}

// ProbeClient is used for health checks, which should give up sooner.
var ProbeClient = &http.Client{
	Timeout: ProbeTimeout,
}
