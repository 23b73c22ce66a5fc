package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBackend persists the encrypted credential under a single key, for
// deployments where several processes share one session.
type RedisBackend struct {
	client *redis.Client
	key    string
	sealer *sealer
}

// NewRedisBackend stores the credential at "<prefix>:credential:<namespace>".
func NewRedisBackend(client *redis.Client, prefix, namespace string, encryptionKey []byte) (*RedisBackend, error) {
	s, err := newSealer(encryptionKey)
	if err != nil {
		return nil, err
	}
	return &RedisBackend{
		client: client,
		key:    fmt.Sprintf("%s:credential:%s", prefix, namespace),
		sealer: s,
	}, nil
}

func (b *RedisBackend) Load(ctx context.Context) (*Credential, error) {
	val, err := b.client.Get(ctx, b.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}
	p, err := b.sealer.open(val)
	if err != nil {
		return nil, err
	}
	return p.credential(true), nil
}

func (b *RedisBackend) Save(ctx context.Context, c *Credential) error {
	encrypted, err := b.sealer.seal(toPersisted(c))
	if err != nil {
		return err
	}
	if err := b.client.Set(ctx, b.key, encrypted, 0).Err(); err != nil {
		return fmt.Errorf("failed to write credential: %w", err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context) error {
	if err := b.client.Del(ctx, b.key).Err(); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}
