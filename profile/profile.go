// Package profile resolves DIDs and handles to display profiles through a bounded,
// expiring cache in front of the AppView.
package profile

import (
	"context"
	"time"
)

// Profile is the display data of one account.
type Profile struct {
	DID         string    `json:"did"`
	Handle      string    `json:"handle"`
	DisplayName string    `json:"displayName,omitempty"`
	Avatar      string    `json:"avatar,omitempty"`
	InsertedAt  time.Time `json:"-"`
}

// Fetcher loads profiles for up to GroupSize DIDs per call. Profiles the upstream does
// not know are omitted from the result.
type Fetcher interface {
	GetProfiles(ctx context.Context, dids []string) ([]Profile, error)
}

// HandleResolver maps a handle to a DID.
type HandleResolver interface {
	ResolveHandle(ctx context.Context, handle string) (string, error)
}
