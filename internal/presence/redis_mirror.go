package presence

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Mirror keeps a derived copy of driver presence in redis: one set of
// online driver ids per city plus a small metadata hash per driver. It is
// a cache for cross-instance readers, never an authority; a reconnecting
// instance rebuilds its view from the store and overwrites these keys.
type Mirror struct {
	client *redis.Client
}

func NewMirror(addr, password string) *Mirror {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &Mirror{client: c}
}

func NewMirrorWithClient(c *redis.Client) *Mirror { return &Mirror{client: c} }

func (m *Mirror) Apply(ctx context.Context, city, driverID string, online bool) error {
	key := cityKey(city)
	if online {
		if err := m.client.SAdd(ctx, key, driverID).Err(); err != nil {
			return err
		}
	} else {
		if err := m.client.SRem(ctx, key, driverID).Err(); err != nil {
			return err
		}
	}
	return m.client.HSet(ctx, metaKey(driverID), map[string]interface{}{
		"online":  strconv.FormatBool(online),
		"city":    city,
		"updated": time.Now().Format(time.RFC3339),
	}).Err()
}

// OnlineIDs lists the mirrored online set for a city.
func (m *Mirror) OnlineIDs(ctx context.Context, city string) ([]string, error) {
	return m.client.SMembers(ctx, cityKey(city)).Result()
}

func (m *Mirror) Ping(ctx context.Context) error { return m.client.Ping(ctx).Err() }

func (m *Mirror) Close() error { return m.client.Close() }

func cityKey(city string) string { return "dispatch:city:" + city + ":online" }
func metaKey(id string) string   { return "driver:meta:" + id }
