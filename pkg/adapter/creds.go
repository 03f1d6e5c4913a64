package adapter

import "context"

// Creds is the caller identity applied to objects the caller creates.
// The protocol server attaches it to the request context; operations that
// never create anything ignore it.
type Creds struct {
	UID uint32
	GID uint32
}

type credsKey struct{}

// WithCreds returns a context carrying the caller identity.
func WithCreds(ctx context.Context, creds Creds) context.Context {
	return context.WithValue(ctx, credsKey{}, creds)
}

// CredsFrom returns the caller identity carried by ctx. A context without
// one yields root (0/0), matching a server that performs no squashing.
func CredsFrom(ctx context.Context) Creds {
	if creds, ok := ctx.Value(credsKey{}).(Creds); ok {
		return creds
	}
	return Creds{}
}
