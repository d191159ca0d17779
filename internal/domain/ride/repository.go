package ride

import "context"

// Repository persists ride snapshots outside the process.
type Repository interface {
	Save(ctx context.Context, ride *Ride) error
	GetByID(ctx context.Context, id string) (*Ride, error)
	ListByRider(ctx context.Context, riderID string, limit int) ([]*Ride, error)
	// ListByStatus lists rides in any of statuses, newest first. No statuses
	// means every ride.
	ListByStatus(ctx context.Context, statuses []Status, limit int) ([]*Ride, error)
}

// Cache keeps hot snapshots of non-terminal rides.
type Cache interface {
	Put(ctx context.Context, ride *Ride) error
	Evict(ctx context.Context, id string) error
}
