package qrcode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Descriptor describes one issued QR code. At most one live descriptor
// exists per class key; issuing again for the same key replaces it.
type Descriptor struct {
	ID         string     `json:"id"`
	Code       string     `json:"code"`
	ClassKey   string     `json:"class_key"`
	ClassLabel string     `json:"class"`
	TrackLabel string     `json:"track"`
	IssuedBy   string     `json:"issued_by"`
	OneShot    bool       `json:"one_shot"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the descriptor is void at t. A descriptor with no
// expiry never expires on its own.
func (d Descriptor) Expired(t time.Time) bool {
	return d.ExpiresAt != nil && !t.Before(*d.ExpiresAt)
}

// IssueParams carries everything Issue needs to stamp a new descriptor.
type IssueParams struct {
	ClassKey   string
	ClassLabel string
	TrackLabel string
	IssuerID   string
	TTL        time.Duration // 0 means no expiry
	OneShot    bool
}

const slotPrefix = "qr:class:"

// Store keeps one descriptor slot per class key in Redis. Slots carry no
// Redis TTL: an expired descriptor must still be readable so callers can
// tell "expired" from "never existed".
type Store struct {
	client  *redis.Client
	nowFunc func() time.Time
}

// NewStore creates a store over a redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client, nowFunc: time.Now}
}

// Issue writes a fresh descriptor as the sole slot value for the class key,
// replacing any prior descriptor. The old code dies with the overwrite.
func (s *Store) Issue(ctx context.Context, p IssueParams) (Descriptor, error) {
	if p.ClassKey == "" {
		return Descriptor{}, errors.New("class key required")
	}
	d := Descriptor{
		ID:         uuid.NewString(),
		Code:       NewCode(CodeLength),
		ClassKey:   p.ClassKey,
		ClassLabel: p.ClassLabel,
		TrackLabel: p.TrackLabel,
		IssuedBy:   p.IssuerID,
		OneShot:    p.OneShot,
		CreatedAt:  s.nowFunc(),
	}
	if p.TTL > 0 {
		exp := d.CreatedAt.Add(p.TTL)
		d.ExpiresAt = &exp
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return Descriptor{}, err
	}
	if err := s.client.Set(ctx, slotPrefix+p.ClassKey, raw, 0).Err(); err != nil {
		return Descriptor{}, fmt.Errorf("write descriptor slot: %w", err)
	}
	return d, nil
}

// GetCurrent returns the live descriptor for a class key, or nil.
func (s *Store) GetCurrent(ctx context.Context, classKey string) (*Descriptor, error) {
	raw, err := s.client.Get(ctx, slotPrefix+classKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read descriptor slot: %w", err)
	}
	var d Descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode descriptor for %s: %w", classKey, err)
	}
	return &d, nil
}

// LookupByCode scans every slot for an exact code match. Expired descriptors
// are returned as-is; rejecting them is the verification engine's call.
func (s *Store) LookupByCode(ctx context.Context, code string) (*Descriptor, error) {
	return s.scan(ctx, func(d Descriptor) bool { return d.Code == code })
}

// LookupByID is the same scan matched on the opaque identifier instead of
// the secret code.
func (s *Store) LookupByID(ctx context.Context, id string) (*Descriptor, error) {
	return s.scan(ctx, func(d Descriptor) bool { return d.ID == id })
}

func (s *Store) scan(ctx context.Context, match func(Descriptor) bool) (*Descriptor, error) {
	iter := s.client.Scan(ctx, 0, slotPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // slot revoked mid-scan
			}
			return nil, fmt.Errorf("read %s: %w", iter.Val(), err)
		}
		var d Descriptor
		if err := json.Unmarshal(raw, &d); err != nil {
			continue // skip malformed slots instead of failing the scan
		}
		if match(d) {
			return &d, nil
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan descriptor slots: %w", err)
	}
	return nil, nil
}

// Revoke deletes the slot for a class key. Revoking an absent key is fine.
func (s *Store) Revoke(ctx context.Context, classKey string) error {
	return s.client.Del(ctx, slotPrefix+classKey).Err()
}
