// Package credential implements version 1 of Cargo's credential-provider
// protocol: newline-delimited JSON requests on stdin, responses on stdout,
// and a hello line announcing the supported protocol versions.
package credential

import "errors"

// protocolVersion is the only protocol version this provider speaks.
const protocolVersion = 1

// Request kinds sent by Cargo.
const (
	KindGet    = "get"
	KindLogin  = "login"
	KindLogout = "logout"
)

// Wire error kinds.
const (
	errKindURLNotSupported       = "url-not-supported"
	errKindNotFound              = "not-found"
	errKindOperationNotSupported = "operation-not-supported"
	errKindOther                 = "error"
)

// Sentinel errors a Provider returns to select a structured wire error
// instead of a free-form one.
var (
	ErrNotFound              = errors.New("credential not found")
	ErrOperationNotSupported = errors.New("requested operation is not supported")
	ErrURLNotSupported       = errors.New("registry URL is not supported")
)

// RegistryInfo identifies the registry a credential operation targets.
type RegistryInfo struct {
	IndexURL string `json:"index-url"`
	Name     string `json:"name,omitempty"`
}

// Request is one protocol request from Cargo.
type Request struct {
	V        int          `json:"v"`
	Registry RegistryInfo `json:"registry"`
	Kind     string       `json:"kind"`

	// Operation is set on get requests (read, publish, yank, ...). The
	// stored token is operation independent, so it is accepted but unused.
	Operation string `json:"operation,omitempty"`

	// Token and LoginURL are set on login requests. A missing token means
	// the provider must prompt for one.
	Token    string `json:"token,omitempty"`
	LoginURL string `json:"login-url,omitempty"`
}

// hello is the first line written on startup.
type hello struct {
	V []int `json:"v"`
}

// response is the Ok/Err envelope around every reply.
type response struct {
	Ok  any        `json:"Ok,omitempty"`
	Err *wireError `json:"Err,omitempty"`
}

// getSuccess is the payload for a successful get.
type getSuccess struct {
	Kind                 string `json:"kind"`
	Token                string `json:"token"`
	Cache                string `json:"cache"`
	OperationIndependent bool   `json:"operation_independent"`
}

// kindOnly is the payload for successful login and logout responses.
type kindOnly struct {
	Kind string `json:"kind"`
}

// wireError is the protocol error schema.
type wireError struct {
	Kind     string   `json:"kind"`
	Message  string   `json:"message,omitempty"`
	CausedBy []string `json:"caused-by,omitempty"`
}

// cacheSession tells Cargo to cache the token for the build session.
const cacheSession = "session"
