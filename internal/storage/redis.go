package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"campaign-progress-engine/internal/progress"
)

// snapshotNamespace seeds the deterministic snapshot ids of the redis store.
var snapshotNamespace = uuid.MustParse("5b0c7a52-3f0e-4d8e-9a51-6f3d1c2b9e47")

// ConnectRedis accepts a redis:// URL or a bare host:port.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisSnapshotStore keeps progress snapshots in redis. Each snapshot is one
// string key, so a SET is the upsert. A per-campaign set indexes the usuarios
// and a sorted set scored by evaluated_at drives the sweeper.
type RedisSnapshotStore struct {
	client *redis.Client
	prefix string
}

var _ progress.SnapshotStore = (*RedisSnapshotStore)(nil)

func NewRedisSnapshotStore(client *redis.Client, prefix string) *RedisSnapshotStore {
	if prefix == "" {
		prefix = "campaign_progress"
	}
	return &RedisSnapshotStore{client: client, prefix: prefix}
}

func (s *RedisSnapshotStore) snapshotKey(campaignID string, usuarioID int64) string {
	return s.prefix + ":snap:" + campaignID + ":" + strconv.FormatInt(usuarioID, 10)
}

func (s *RedisSnapshotStore) campaignKey(campaignID string) string {
	return s.prefix + ":campaign:" + campaignID
}

func (s *RedisSnapshotStore) evaluatedKey() string { return s.prefix + ":evaluated" }

// member identifies a snapshot inside the evaluated sorted set.
func member(campaignID string, usuarioID int64) string {
	return campaignID + "|" + strconv.FormatInt(usuarioID, 10)
}

func parseMember(m string) (string, int64, bool) {
	i := strings.LastIndexByte(m, '|')
	if i <= 0 {
		return "", 0, false
	}
	id, err := strconv.ParseInt(m[i+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return m[:i], id, true
}

// SnapshotID is stable per (campaign, usuario) so overwrites keep the id.
func SnapshotID(campaignID string, usuarioID int64) string {
	return uuid.NewSHA1(snapshotNamespace, []byte(member(campaignID, usuarioID))).String()
}

func (s *RedisSnapshotStore) GetSnapshot(ctx context.Context, campaignID string, usuarioID int64) (*progress.Snapshot, error) {
	raw, err := s.client.Get(ctx, s.snapshotKey(campaignID, usuarioID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get snapshot: %w", err)
	}
	var snap progress.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		// unreadable entries behave like a miss and are overwritten
		return nil, nil
	}
	return &snap, nil
}

func (s *RedisSnapshotStore) UpsertSnapshot(ctx context.Context, snap progress.Snapshot) (*progress.Snapshot, error) {
	snap.ID = SnapshotID(snap.CampaignID, snap.UsuarioID)
	snap.UpdatedAt = time.Now().UTC()
	snap.CreatedAt = snap.UpdatedAt
	if prev, err := s.GetSnapshot(ctx, snap.CampaignID, snap.UsuarioID); err == nil && prev != nil && !prev.CreatedAt.IsZero() {
		snap.CreatedAt = prev.CreatedAt
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	key := s.snapshotKey(snap.CampaignID, snap.UsuarioID)
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, key, raw, 0)
		p.SAdd(ctx, s.campaignKey(snap.CampaignID), strconv.FormatInt(snap.UsuarioID, 10))
		p.ZAdd(ctx, s.evaluatedKey(), redis.Z{
			Score:  float64(snap.EvaluatedAt.UnixMilli()),
			Member: member(snap.CampaignID, snap.UsuarioID),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis upsert snapshot: %w", err)
	}
	return &snap, nil
}

func (s *RedisSnapshotStore) DeleteSnapshots(ctx context.Context, campaignID string, usuarioID *int64) (int64, error) {
	var ids []int64
	if usuarioID != nil {
		ids = []int64{*usuarioID}
	} else {
		members, err := s.client.SMembers(ctx, s.campaignKey(campaignID)).Result()
		if err != nil {
			return 0, fmt.Errorf("redis list campaign snapshots: %w", err)
		}
		for _, m := range members {
			if id, err := strconv.ParseInt(m, 10, 64); err == nil {
				ids = append(ids, id)
			}
		}
	}
	return s.remove(ctx, campaignID, ids)
}

func (s *RedisSnapshotStore) remove(ctx context.Context, campaignID string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(ids))
	idx := make([]any, 0, len(ids))
	zs := make([]any, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.snapshotKey(campaignID, id))
		idx = append(idx, strconv.FormatInt(id, 10))
		zs = append(zs, member(campaignID, id))
	}
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, keys...)
		p.SRem(ctx, s.campaignKey(campaignID), idx...)
		p.ZRem(ctx, s.evaluatedKey(), zs...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis delete snapshots: %w", err)
	}
	return del.Val(), nil
}

func (s *RedisSnapshotStore) DeleteSnapshotsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	members, err := s.client.ZRangeByScore(ctx, s.evaluatedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis list expired snapshots: %w", err)
	}
	byCampaign := map[string][]int64{}
	for _, m := range members {
		if c, id, ok := parseMember(m); ok {
			byCampaign[c] = append(byCampaign[c], id)
		}
	}
	var total int64
	for c, ids := range byCampaign {
		n, err := s.remove(ctx, c, ids)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (s *RedisSnapshotStore) CountByStatus(ctx context.Context, campaignID string) (map[string]int64, error) {
	members, err := s.client.SMembers(ctx, s.campaignKey(campaignID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list campaign snapshots: %w", err)
	}
	out := map[string]int64{}
	if len(members) == 0 {
		return out, nil
	}
	keys := make([]string, 0, len(members))
	for _, m := range members {
		if id, err := strconv.ParseInt(m, 10, 64); err == nil {
			keys = append(keys, s.snapshotKey(campaignID, id))
		}
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read snapshots: %w", err)
	}
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var snap struct {
			Status string `json:"status"`
		}
		if json.Unmarshal([]byte(raw), &snap) == nil && snap.Status != "" {
			out[snap.Status]++
		}
	}
	return out, nil
}
