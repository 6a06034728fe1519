package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/stratumkit/stratum/internal/tenancy"
)

// actorID extracts the acting user from the request context. Bypass
// identities and bare API-key contexts carry no member user, so role and
// permission checks do not apply to them.
func actorID(ctx context.Context) (uuid.UUID, bool) {
	tc := tenancy.FromContextOrNil(ctx)
	if tc == nil || tc.Bypass() || tc.UserID == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(tc.UserID)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
