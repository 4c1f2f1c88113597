package platform

import "context"

// Message is the content to be delivered by a Provider.
type Message struct {
	Subject string
	Body    string
	HTML    string
	To      []string
}

// Provider is the interface for fallback delivery backends.
type Provider interface {
	// Name returns the provider identifier (e.g. "smtp").
	Name() string
	// Send delivers the message using the provider's transport.
	Send(ctx context.Context, msg Message) error
}
