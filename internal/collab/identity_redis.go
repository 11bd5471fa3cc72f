package collab

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"batchcore/internal/core"
	"batchcore/pkg/domain"
)

// Compile-time contract assertion.
var _ core.RoleDirectory = (*RedisRoleDirectory)(nil)

// RedisRoleDirectory resolves actor roles from the identity collaborator's
// redis cache. The identity service owns the keys; this client only reads
// them, so a role change takes effect on the next lookup.
type RedisRoleDirectory struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisRoleDirectory constructs a directory over the given client.
func NewRedisRoleDirectory(client *redis.Client) *RedisRoleDirectory {
	return &RedisRoleDirectory{client: client, keyPrefix: "identity:role:"}
}

// RoleOf returns the actor's current role. A missing key is a not-found; any
// transport failure is attributed to the identity collaborator.
func (d *RedisRoleDirectory) RoleOf(ctx context.Context, actorID string) (domain.Role, error) {
	if actorID == "" {
		return "", domain.ValidationError{Field: "actor_id", Reason: "must not be empty"}
	}
	value, err := d.client.Get(ctx, d.keyPrefix+actorID).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.NotFoundError{Entity: "actor", ID: actorID}
	}
	if err != nil {
		return "", domain.DownstreamError{Collaborator: "identity", Err: err}
	}
	role := domain.Role(value)
	if !role.Known() {
		return "", domain.DownstreamError{
			Collaborator: "identity",
			Err:          fmt.Errorf("identity cache holds unknown role %q for actor %s", value, actorID),
		}
	}
	return role, nil
}
