package swap

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hush-protocol/hushlender/internal/logger"
)

// Error definitions for zero-tolerance error handling
var (
	ErrUnknownTarget = errors.New("swap: no venue registered at target address")
	ErrNilVenue      = errors.New("swap: venue cannot be nil")
)

var registryLogger = logger.GetForComponent("swap")

// Venue is an executable call target: anything that accepts raw calldata from
// a caller and moves funds on the ledger in response. Swap routers implement
// this, and tests register misbehaving venues through the same interface.
type Venue interface {
	Call(caller common.Address, calldata []byte) error
}

// Registry maps addresses to venues so decoded instructions can be dispatched
// like external calls.
type Registry struct {
	venues map[common.Address]Venue
}

// NewRegistry creates an empty venue registry.
func NewRegistry() *Registry {
	return &Registry{venues: make(map[common.Address]Venue)}
}

// Register binds a venue to an address. Re-registering an address replaces the
// previous venue.
func (r *Registry) Register(addr common.Address, venue Venue) error {
	if venue == nil {
		return ErrNilVenue
	}
	if addr == (common.Address{}) {
		return ErrEmptyTarget
	}
	r.venues[addr] = venue
	registryLogger.Debug().Str("address", addr.Hex()).Msg("Venue registered")
	return nil
}

// Call dispatches calldata to the venue registered at target on behalf of the
// caller. An unknown target is an error, not a no-op.
func (r *Registry) Call(caller, target common.Address, calldata []byte) error {
	venue, ok := r.venues[target]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, target.Hex())
	}
	return venue.Call(caller, calldata)
}
