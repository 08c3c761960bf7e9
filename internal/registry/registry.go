// Package registry tracks registered face names and enforces their
// case-insensitive uniqueness atomically in the backing store.
//
// A registration is a three-step sequence: Reserve claims the name (the
// unique index rejects a concurrent or existing duplicate), the caller runs
// the register worker, then Confirm records the worker's result or Release
// frees the name if the worker failed.
package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/mattjoyce/facegate/internal/protocol"
)

// staleReservation is how old a pending row must be before it is assumed
// abandoned by a crashed gateway and purged at open.
const staleReservation = 10 * time.Minute

// Face is one confirmed registration.
type Face struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Reservation is a claimed but unconfirmed name.
type Reservation struct {
	ID   int64
	Name string
}

// Registry is the name store behind register-face and registered-faces.
type Registry interface {
	// Reserve claims name. It fails with a DuplicateName failure when any
	// case-variant of the name is already claimed.
	Reserve(ctx context.Context, name string) (Reservation, error)
	// Confirm marks the reservation as registered with the worker's result.
	Confirm(ctx context.Context, r Reservation, reg protocol.Registration) error
	// Release drops an unconfirmed reservation.
	Release(ctx context.Context, r Reservation) error
	// List returns confirmed faces, newest first.
	List(ctx context.Context) ([]Face, error)
	Close() error
}

// DuplicateMessage is the user-facing rejection text for name.
func DuplicateMessage(name string) string {
	return fmt.Sprintf("A face with the name %q already exists. Please use a different name.", name)
}

func duplicate(name string, err error) error {
	return protocol.Wrap(protocol.DuplicateName, err, DuplicateMessage(name))
}

// normalizeName trims surrounding whitespace and rejects an empty result.
func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", protocol.Fail(protocol.ValidationError, "name is required")
	}
	return name, nil
}

// nameKey is the case-folded form the unique index is built on. Folding is
// Unicode-aware, so "Émile" and "émile" collide.
func nameKey(name string) string {
	return cases.Fold().String(name)
}

func createdAt(reg protocol.Registration, now time.Time) time.Time {
	if reg.CreatedAt.IsZero() {
		return now.UTC()
	}
	return reg.CreatedAt.UTC()
}
