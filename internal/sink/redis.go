package sink

import (
    "context"
    "strings"
    "time"

    "github.com/redis/go-redis/v9"

    "github.com/park285/cheese-observer/internal/domain"
    "github.com/park285/cheese-observer/pkg/observerdto"
)

const (
    ttlLog        = 24 * time.Hour
    minLogs       = 10
    maxLogsCap    = 1000
    defaultMaxLog = 100
)

// Redis keeps a trimmed snapshot log plus the latest snapshot.
type Redis struct {
    rdb     *redis.Client
    prefix  string
    maxLogs int64
}

// ClampMaxLogs bounds a log size to 10..1000, defaulting to 100.
func ClampMaxLogs(n int) int {
    if n <= 0 { return defaultMaxLog }
    if n < minLogs { return minLogs }
    if n > maxLogsCap { return maxLogsCap }
    return n
}

func NewRedis(rdb *redis.Client, prefix string, maxLogs int) *Redis {
    prefix = strings.TrimSpace(prefix)
    if prefix == "" { prefix = "obs" }
    return &Redis{rdb: rdb, prefix: prefix, maxLogs: int64(ClampMaxLogs(maxLogs))}
}

func (s *Redis) keyLog() string                { return s.prefix + ":log" }
func (s *Redis) keyLatest() string             { return s.prefix + ":latest" }
func (s *Redis) keyGames() string              { return s.prefix + ":games" }
func (s *Redis) keyGame(gameID string) string { return s.prefix + ":game:" + strings.TrimSpace(gameID) }

func (s *Redis) Deliver(ctx context.Context, rec domain.Record) error {
    raw, err := encodeRecord(rec)
    if err != nil { return err }
    pipe := s.rdb.TxPipeline()
    pipe.RPush(ctx, s.keyLog(), raw)
    pipe.LTrim(ctx, s.keyLog(), -s.maxLogs, -1)
    pipe.Expire(ctx, s.keyLog(), ttlLog)
    pipe.Set(ctx, s.keyLatest(), raw, ttlLog)
    if rec.GameID != "" {
        pipe.ZAdd(ctx, s.keyGames(), redis.Z{Score: float64(rec.Snapshot.ObservedAt.UnixMilli()), Member: rec.GameID})
        pipe.Expire(ctx, s.keyGames(), ttlLog)
        pipe.HSet(ctx, s.keyGame(rec.GameID), "last_seq", rec.Snapshot.SequenceNumber, "fen", rec.Snapshot.PositionAfter)
        pipe.Expire(ctx, s.keyGame(rec.GameID), ttlLog)
    }
    _, err = pipe.Exec(ctx)
    return err
}

// Records returns up to limit newest snapshots, oldest first.
func (s *Redis) Records(ctx context.Context, limit int) ([]observerdto.Snapshot, error) {
    start := int64(0)
    if limit > 0 { start = -int64(limit) }
    raws, err := s.rdb.LRange(ctx, s.keyLog(), start, -1).Result()
    if err != nil { return nil, err }
    out := make([]observerdto.Snapshot, 0, len(raws))
    for _, raw := range raws {
        snap, err := decodeSnapshot([]byte(raw))
        if err != nil { continue } // 손상된 항목은 건너뜀
        out = append(out, snap)
    }
    return out, nil
}

func (s *Redis) Latest(ctx context.Context) (*observerdto.Snapshot, error) {
    raw, err := s.rdb.Get(ctx, s.keyLatest()).Bytes()
    if err == redis.Nil { return nil, nil }
    if err != nil { return nil, err }
    snap, err := decodeSnapshot(raw)
    if err != nil { return nil, err }
    return &snap, nil
}

// Games lists recently observed game ids, newest first.
func (s *Redis) Games(ctx context.Context, limit int) ([]string, error) {
    stop := int64(-1)
    if limit > 0 { stop = int64(limit) - 1 }
    return s.rdb.ZRevRange(ctx, s.keyGames(), 0, stop).Result()
}

// Clear drops the log and latest snapshot.
func (s *Redis) Clear(ctx context.Context) error {
    return s.rdb.Del(ctx, s.keyLog(), s.keyLatest()).Err()
}
