package domain

import "context"

// ListingSource supplies one raw listing snapshot per refresh cycle. Venue
// parsing, authentication and transport live behind this boundary.
type ListingSource interface {
	Snapshot(ctx context.Context) ([]RawListing, error)
}
