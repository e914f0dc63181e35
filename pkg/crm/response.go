package crm

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// Response is a successful CRM reply.
type Response struct {
	StatusCode int
	Body       []byte
}

// RemoteID extracts the CRM id of the synced record. It looks at
// {key:{id}}, then {data:{id}}, then a top-level {id}, and returns ""
// when none is present.
func (r *Response) RemoteID(key string) string {
	if r == nil || len(r.Body) == 0 {
		return ""
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(r.Body, &doc); err != nil {
		return ""
	}
	for _, k := range []string{key, "data"} {
		raw, ok := doc[k]
		if !ok || k == "" {
			continue
		}
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(raw, &nested); err == nil {
			if id := idString(nested["id"]); id != "" {
				return id
			}
		}
	}
	return idString(doc["id"])
}

func idString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// StatusError is a non-success HTTP reply from the CRM.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("crm returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("crm returned status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying the same request may succeed.
func (e *StatusError) Temporary() bool {
	switch {
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	}
	return false
}

// IsPermanent reports whether err is a CRM rejection that will not change
// on retry.
func IsPermanent(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return !statusErr.Temporary()
	}
	return false
}

// StatusText is a short label for logs and metrics.
func StatusText(err error) string {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return strconv.Itoa(statusErr.StatusCode)
	}
	if err != nil {
		return "error"
	}
	return "ok"
}
