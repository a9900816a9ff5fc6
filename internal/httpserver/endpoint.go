package httpserver

import "net/http"

// EndpointRoute binds one method and path to a handler.
type EndpointRoute struct {
	Method  string
	Path    string
	Handler http.Handler
}

// Endpoint groups related routes under a name used in debug logs.
type Endpoint interface {
	Name() string
	Routes() []EndpointRoute
}
