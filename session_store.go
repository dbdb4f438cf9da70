package phonegate

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionRecordVersionV1 = 1

// RedisSessionStore is the production [SessionStore]: one Redis key per
// session with a native TTL, records encoded as versioned binary blobs,
// and WATCH-based compare-and-swap for handle replacement so a resend
// racing a verify never corrupts the stored handle.
type RedisSessionStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisSessionStore creates a session store on the given client.
// The prefix namespaces session keys ("pgs" by default).
func NewRedisSessionStore(client redis.UniversalClient, prefix string) *RedisSessionStore {
	if prefix == "" {
		prefix = "pgs"
	}
	return &RedisSessionStore{
		redis:  client,
		prefix: prefix,
	}
}

func (s *RedisSessionStore) key(id string) string {
	return s.prefix + ":" + id
}

// Create stores a new session under its ID with the given TTL.
func (s *RedisSessionStore) Create(ctx context.Context, session *VerificationSession, ttl time.Duration) error {
	encoded, err := encodeSessionRecord(session)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(session.ID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Get loads a session. Expired records are treated as not found and
// deleted opportunistically; Redis TTL normally evicts them first, but
// the expiry check keeps the contract independent of server clocks.
func (s *RedisSessionStore) Get(ctx context.Context, id string) (*VerificationSession, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	session, err := decodeSessionRecord(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	session.ID = id
	if session.Expired(time.Now()) {
		_, _ = s.redis.Del(ctx, s.key(id)).Result()
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// ReplaceHandle atomically supersedes the live provider handle. The
// record keeps its remaining TTL; resend never extends expiry.
func (s *RedisSessionStore) ReplaceHandle(ctx context.Context, id, newHandle string) error {
	return s.update(ctx, id, func(session *VerificationSession) {
		session.ProviderHandle = newHandle
	})
}

// MarkConsumed atomically flags the session as applied.
func (s *RedisSessionStore) MarkConsumed(ctx context.Context, id string) error {
	return s.update(ctx, id, func(session *VerificationSession) {
		session.Consumed = true
	})
}

// Delete removes a session. Deleting an unknown ID is not an error.
func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisSessionStore) update(ctx context.Context, id string, mutate func(*VerificationSession)) error {
	const maxRetries = 4
	key := s.key(id)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			session, err := decodeSessionRecord(data)
			if err != nil {
				return err
			}
			session.ID = id

			now := time.Now()
			if session.Expired(now) {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrSessionNotFound
			}

			mutate(session)

			ttl := time.Until(time.Unix(session.ExpiresAt, 0))
			if ttl <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrSessionNotFound
			}

			updated, err := encodeSessionRecord(session)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return ErrSessionNotFound
			case errors.Is(err, ErrSessionNotFound):
				return err
			default:
				return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
		}
		return nil
	}

	return ErrSessionNotFound
}

func encodeSessionRecord(session *VerificationSession) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(sessionRecordVersionV1)
	buf.WriteByte(byte(session.Flow))
	if session.Consumed {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	if err := binary.Write(&buf, binary.BigEndian, session.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, session.ExpiresAt); err != nil {
		return nil, err
	}

	for _, field := range []string{session.UserID, session.PhoneNumber, session.ProviderHandle} {
		if len(field) > 65535 {
			return nil, errors.New("session record field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

func decodeSessionRecord(data []byte) (*VerificationSession, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionRecordVersionV1 {
		return nil, errors.New("invalid session record version")
	}

	flow, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	consumed, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	session := &VerificationSession{
		Flow:     FlowType(flow),
		Consumed: consumed == 1,
	}

	if err := binary.Read(reader, binary.BigEndian, &session.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &session.ExpiresAt); err != nil {
		return nil, err
	}

	for _, field := range []*string{&session.UserID, &session.PhoneNumber, &session.ProviderHandle} {
		var fieldLen uint16
		if err := binary.Read(reader, binary.BigEndian, &fieldLen); err != nil {
			return nil, err
		}
		raw := make([]byte, fieldLen)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		*field = string(raw)
	}

	return session, nil
}
