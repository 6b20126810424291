package core

import "context"

type actorCtxKey struct{}

// Actor is the authenticated user performing a request.
type Actor struct {
	ID       int
	Username string
	Email    string
	Roles    []string
	IP       string
}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorCtxKey{}, actor)
}

// ActorFromContext returns the request Actor; ok is false for anonymous requests.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorCtxKey{}).(Actor)
	return actor, ok
}
