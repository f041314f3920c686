// Package presence tracks which participants are active on each document,
// backed by Redis sets. Set add/remove is atomic and idempotent, so no
// application-level locking is layered on top.
package presence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Mode selects the granularity of presence tracking.
//
// ModeUsername matches the historical behavior: set members are bare
// usernames, so a single leave removes the name even when several
// connections share it. ModeConnection keys members by connection as well,
// so a name stays present while any of its connections remains joined.
type Mode string

const (
	ModeUsername   Mode = "username"
	ModeConnection Mode = "connection"
)

// ParseMode returns the mode for a config string, falling back to
// ModeUsername for anything unrecognized.
func ParseMode(value string) Mode {
	if Mode(value) == ModeConnection {
		return ModeConnection
	}
	return ModeUsername
}

// Registry is the presence set store. Operations on a document with no
// prior joins behave as an empty set; none of them error on unknown ids.
type Registry struct {
	client *redis.Client
	mode   Mode
}

func NewRegistry(redisURL string, mode Mode) (*Registry, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Registry{client: client, mode: mode}, nil
}

// NewRegistryWithClient creates a registry from an existing client, for
// tests and shared-pool setups.
func NewRegistryWithClient(client *redis.Client, mode Mode) *Registry {
	return &Registry{client: client, mode: mode}
}

func (r *Registry) Mode() Mode {
	return r.mode
}

func (r *Registry) key(docID string) string {
	return "doc:" + docID + ":users"
}

// member encodes a set member. Connection ids contain no "/", so the
// username can always be recovered from everything after the first slash.
func (r *Registry) member(username, connID string) string {
	if r.mode == ModeConnection {
		return connID + "/" + username
	}
	return username
}

func memberUsername(member string) string {
	if _, name, ok := strings.Cut(member, "/"); ok {
		return name
	}
	return member
}

// Join adds a participant to the document's presence set. Re-joining is a
// no-op with respect to membership and count.
func (r *Registry) Join(ctx context.Context, docID, username, connID string) error {
	if err := r.client.SAdd(ctx, r.key(docID), r.member(username, connID)).Err(); err != nil {
		return fmt.Errorf("presence join: %w", err)
	}
	return nil
}

// Leave removes a participant. In username mode the name is removed
// outright regardless of how many connections share it; in connection mode
// only this connection's claim is dropped.
func (r *Registry) Leave(ctx context.Context, docID, username, connID string) error {
	if err := r.client.SRem(ctx, r.key(docID), r.member(username, connID)).Err(); err != nil {
		return fmt.Errorf("presence leave: %w", err)
	}
	return nil
}

// List returns the distinct usernames present on a document. Order is
// unspecified; Redis sets carry no ordering.
func (r *Registry) List(ctx context.Context, docID string) ([]string, error) {
	members, err := r.client.SMembers(ctx, r.key(docID)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence list: %w", err)
	}
	if r.mode == ModeUsername {
		return members, nil
	}
	seen := make(map[string]struct{}, len(members))
	users := make([]string, 0, len(members))
	for _, member := range members {
		name := memberUsername(member)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		users = append(users, name)
	}
	return users, nil
}

// Count returns the number of distinct usernames present on a document.
func (r *Registry) Count(ctx context.Context, docID string) (int64, error) {
	if r.mode == ModeUsername {
		count, err := r.client.SCard(ctx, r.key(docID)).Result()
		if err != nil {
			return 0, fmt.Errorf("presence count: %w", err)
		}
		return count, nil
	}
	users, err := r.List(ctx, docID)
	if err != nil {
		return 0, err
	}
	return int64(len(users)), nil
}

func (r *Registry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Registry) Close() error {
	return r.client.Close()
}
