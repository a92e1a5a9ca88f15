// utils/http.go
package utils

import (
	"net/http"
	"time"
)

// HTTPClient is the shared client for outbound calls (FX provider polling).
var HTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}
