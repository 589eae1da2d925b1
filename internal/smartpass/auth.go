package smartpass

import (
	"encoding/base64"
	"net/http"
)

// BasicAuthHeaders returns the header set sent with every API call.
func BasicAuthHeaders(username, password string) http.Header {
	h := JSONHeaders()
	credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	h.Set("Authorization", "Basic "+credentials)
	return h
}

func JSONHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return h
}
