package gateway

// Response is the error body returned with a 4xx status.
type Response struct {
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (r Response) reason() string {
	if r.Reason != "" {
		return r.Reason
	}
	return r.Error
}
