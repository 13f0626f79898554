package sim

import (
	"errors"
	"fmt"
)

// ErrNoUpdates is returned when an aggregation receives no client updates.
var ErrNoUpdates = errors.New("no client updates to aggregate")

// InsufficientClientsError is returned by participant selection when fewer
// idle clients are available than the configured minimum.
type InsufficientClientsError struct {
	Round     int
	Required  int
	Available int
}

func (e *InsufficientClientsError) Error() string {
	return fmt.Sprintf("round %d: insufficient clients: required %d, available %d", e.Round, e.Required, e.Available)
}
