package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"wellness-sessions/internal/model"
)

const listingVersionKey = "sessions:listing:version"

// ListingCache stores rendered public listing pages. Invalidate bumps a
// version counter that is part of every page key, so stale pages simply stop
// being addressed and expire on their TTL.
type ListingCache struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewListingCache(client *redisv9.Client, ttl time.Duration) *ListingCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &ListingCache{
		client: client,
		ttl:    ttl,
	}
}

// GetListing looks up a page under the current listing version. A nil page
// is a miss; the returned version is the one a miss should be stored under
// with SetListing, so a page read before an invalidation is never filed
// under the newer version.
func (c *ListingCache) GetListing(ctx context.Context, query model.SessionQuery) (*model.SessionPage, int64, error) {
	version, err := c.version(ctx)
	if err != nil {
		return nil, 0, err
	}
	raw, err := c.client.Get(ctx, ListingKey(version, query)).Bytes()
	if errors.Is(err, redisv9.Nil) {
		return nil, version, nil
	}
	if err != nil {
		return nil, version, fmt.Errorf("redis get listing failed: %w", err)
	}

	page, err := decodeListing(raw)
	if err != nil {
		return nil, version, err
	}
	return page, version, nil
}

func (c *ListingCache) SetListing(ctx context.Context, query model.SessionQuery, version int64, page *model.SessionPage) error {
	payload, err := encodeListing(page)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, ListingKey(version, query), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set listing failed: %w", err)
	}
	return nil
}

func (c *ListingCache) Invalidate(ctx context.Context) error {
	if err := c.client.Incr(ctx, listingVersionKey).Err(); err != nil {
		return fmt.Errorf("redis bump listing version failed: %w", err)
	}
	return nil
}

func (c *ListingCache) version(ctx context.Context) (int64, error) {
	v, err := c.client.Get(ctx, listingVersionKey).Int64()
	if errors.Is(err, redisv9.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get listing version failed: %w", err)
	}
	return v, nil
}

// ListingKey derives the cache key of one listing page. Queries that differ
// only in tag order map to the same key.
func ListingKey(version int64, query model.SessionQuery) string {
	tags := append([]string(nil), query.Tags...)
	slices.Sort(tags)

	var b strings.Builder
	fmt.Fprintf(&b, "status=%s|category=%s|tags=%s|search=%s|order=%s|offset=%d|limit=%d|author=%t",
		query.Status,
		query.Category,
		strings.Join(tags, ","),
		strings.ToLower(query.Search),
		query.Order,
		query.Offset,
		query.Limit,
		query.WithAuthor,
	)
	sum := sha1.Sum([]byte(b.String()))
	return fmt.Sprintf("sessions:listing:v%d:%s", version, hex.EncodeToString(sum[:]))
}

// cachedSession keeps the author next to the session, since the session's
// own encoding writes it but cannot read it back.
type cachedSession struct {
	Session model.Session `json:"session"`
	Author  *model.Author `json:"author,omitempty"`
}

type cachedPage struct {
	Sessions   []cachedSession  `json:"sessions"`
	Pagination model.Pagination `json:"pagination"`
}

func encodeListing(page *model.SessionPage) ([]byte, error) {
	cp := cachedPage{
		Sessions:   make([]cachedSession, 0, len(page.Sessions)),
		Pagination: page.Pagination,
	}
	for _, session := range page.Sessions {
		cp.Sessions = append(cp.Sessions, cachedSession{Session: session, Author: session.Owner.Author()})
	}
	payload, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("marshal listing cache failed: %w", err)
	}
	return payload, nil
}

func decodeListing(raw []byte) (*model.SessionPage, error) {
	var cp cachedPage
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal cached listing failed: %w", err)
	}
	page := &model.SessionPage{
		Sessions:   make([]model.Session, 0, len(cp.Sessions)),
		Pagination: cp.Pagination,
	}
	for _, entry := range cp.Sessions {
		session := entry.Session
		if entry.Author != nil {
			session.Owner = &model.User{ID: entry.Author.ID, Username: entry.Author.Username}
		}
		page.Sessions = append(page.Sessions, session)
	}
	return page, nil
}
