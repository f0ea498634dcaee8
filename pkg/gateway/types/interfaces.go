package types

import "context"

// Client is the abstract push gateway capability the dispatcher drives.
// Send returns an error only on transport failure; a structural gateway
// response (including 5xx) comes back as a SendResponse.
type Client interface {
	Send(ctx context.Context, req *SendRequest) (*SendResponse, error)
}
