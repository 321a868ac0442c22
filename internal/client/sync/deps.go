package sync

import (
	"context"

	"github.com/iudanet/offlinesync/internal/client/sync/incoming"
	"github.com/iudanet/offlinesync/internal/client/sync/initial"
	"github.com/iudanet/offlinesync/internal/client/sync/outgoing"
)

//go:generate moq -out deps_mock.go . Transport IdentityProvider Reachability

// Transport is the backend connection used for one sync cycle.
type Transport interface {
	outgoing.Submitter
	incoming.Subscriber
	initial.Fetcher
}

// AuthMode режим авторизации исходящих запросов
type AuthMode int

const (
	// AuthModeAnonymous sends requests without credentials
	AuthModeAnonymous AuthMode = iota
	// AuthModeUser sends requests on behalf of the signed-in user
	AuthModeUser
)

func (m AuthMode) String() string {
	if m == AuthModeUser {
		return "user"
	}
	return "anonymous"
}

// TransportFactory builds a transport for the given auth mode. It is called
// at the start of every cycle and on resume, so credentials can be refreshed.
type TransportFactory func(ctx context.Context, mode AuthMode) (Transport, error)

// IdentityProvider tells whether a user is signed in.
type IdentityProvider interface {
	IsAuthenticated(ctx context.Context) bool
}

// Reachability reports backend availability changes.
type Reachability interface {
	Watch(ctx context.Context) <-chan bool
}

// Resettable releases the resources of a component on engine reset.
type Resettable interface {
	Reset(ctx context.Context) error
}

// resetFunc adapts a function to Resettable
type resetFunc func(ctx context.Context) error

func (f resetFunc) Reset(ctx context.Context) error {
	return f(ctx)
}
