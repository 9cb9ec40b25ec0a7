package lending

import (
	"context"

	"lendcore/crypto"
)

type senderKey struct{}

// WithSender attaches the authenticated caller to ctx.
func WithSender(ctx context.Context, sender crypto.Address) context.Context {
	return context.WithValue(ctx, senderKey{}, sender)
}

// Sender returns the caller attached to ctx, or the zero address.
func Sender(ctx context.Context) crypto.Address {
	if ctx == nil {
		return crypto.ZeroAddress
	}
	sender, _ := ctx.Value(senderKey{}).(crypto.Address)
	return sender
}
