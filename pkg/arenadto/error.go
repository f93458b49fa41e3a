package arenadto

// DomainError is the wire form of a failure. Kind tells a client whether to
// fix the request (validation), refresh and retry (timing), give up
// (resource) or retry later (dependency).
type DomainError struct {
	Kind      string `json:"kind,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "arena service error"
}

type ErrorResponse struct {
	Error DomainError `json:"error"`
}
