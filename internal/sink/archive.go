package sink

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "strconv"
    "strings"
    "time"

    json "github.com/goccy/go-json"
    _ "github.com/lib/pq"
    _ "modernc.org/sqlite"

    "github.com/park285/cheese-observer/internal/domain"
)

// Dialect selects placeholder style and driver name.
type Dialect string

const (
    DialectPostgres Dialect = "postgres"
    DialectSQLite   Dialect = "sqlite"
)

func ParseDialect(s string) (Dialect, error) {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "postgres", "postgresql", "pq":
        return DialectPostgres, nil
    case "sqlite", "sqlite3":
        return DialectSQLite, nil
    }
    return "", fmt.Errorf("unsupported archive driver: %q", s)
}

func (d Dialect) placeholders(n int) string {
    parts := make([]string, n)
    for i := range parts {
        if d == DialectPostgres {
            parts[i] = "$" + strconv.Itoa(i+1)
        } else {
            parts[i] = "?"
        }
    }
    return strings.Join(parts, ",")
}

const schema = `CREATE TABLE IF NOT EXISTS observed_snapshots (
    game_id TEXT NOT NULL,
    sequence_number INTEGER NOT NULL,
    position_before TEXT,
    position_after TEXT NOT NULL,
    move TEXT,
    move_list TEXT NOT NULL,
    turn_to_move TEXT NOT NULL,
    your_color TEXT,
    white_time INTEGER,
    black_time INTEGER,
    source TEXT NOT NULL,
    mode TEXT,
    observed_at_ms BIGINT NOT NULL,
    PRIMARY KEY (game_id, sequence_number)
)`

// Archive stores every snapshot in a SQL table keyed by game and sequence.
type Archive struct {
    db      *sql.DB
    dialect Dialect
}

// OpenArchive opens, pings and migrates the archive database.
func OpenArchive(ctx context.Context, driver, dsn string) (*Archive, error) {
    dialect, err := ParseDialect(driver)
    if err != nil { return nil, err }
    if strings.TrimSpace(dsn) == "" { return nil, errors.New("archive dsn is required") }
    db, err := sql.Open(string(dialect), dsn)
    if err != nil { return nil, err }
    if dialect == DialectSQLite {
        db.SetMaxOpenConns(1)
    } else {
        db.SetMaxOpenConns(8)
        db.SetMaxIdleConns(4)
        db.SetConnMaxLifetime(30 * time.Minute)
    }
    pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    if err := db.PingContext(pctx); err != nil {
        _ = db.Close()
        return nil, err
    }
    a := NewArchive(db, dialect)
    if err := a.EnsureSchema(pctx); err != nil {
        _ = db.Close()
        return nil, err
    }
    return a, nil
}

func NewArchive(db *sql.DB, dialect Dialect) *Archive { return &Archive{db: db, dialect: dialect} }

func (a *Archive) EnsureSchema(ctx context.Context) error {
    _, err := a.db.ExecContext(ctx, schema)
    if err != nil { return fmt.Errorf("ensure schema: %w", err) }
    return nil
}

func (a *Archive) Close() error {
    if a == nil || a.db == nil { return nil }
    return a.db.Close()
}

// Deliver inserts the snapshot; a repeated (game, sequence) pair is ignored.
func (a *Archive) Deliver(ctx context.Context, rec domain.Record) error {
    s := rec.Snapshot
    moves := s.MoveList
    if moves == nil { moves = []string{} }
    movesRaw, err := json.Marshal(moves)
    if err != nil { return fmt.Errorf("marshal move list: %w", err) }

    q := `INSERT INTO observed_snapshots (
        game_id, sequence_number, position_before, position_after, move, move_list,
        turn_to_move, your_color, white_time, black_time, source, mode, observed_at_ms
      ) VALUES (` + a.dialect.placeholders(13) + `)
      ON CONFLICT (game_id, sequence_number) DO NOTHING`
    _, err = a.db.ExecContext(ctx, q,
        rec.GameID, s.SequenceNumber, nullString(s.PositionBefore), s.PositionAfter, nullString(s.Move), string(movesRaw),
        string(s.TurnToMove), nullString(string(s.YourColor)), nullInt(s.WhiteTime), nullInt(s.BlackTime),
        string(s.SourceOfPosition), nullString(string(s.Mode)), s.ObservedAt.UnixMilli(),
    )
    if err != nil { return fmt.Errorf("insert snapshot: %w", err) }
    return nil
}

// History returns the first limit snapshots of a game in sequence order.
func (a *Archive) History(ctx context.Context, gameID string, limit int) ([]domain.Record, error) {
    if limit <= 0 { limit = 1000 }
    q := `SELECT sequence_number, position_before, position_after, move, move_list,
        turn_to_move, your_color, white_time, black_time, source, mode, observed_at_ms
      FROM observed_snapshots WHERE game_id = ` + a.dialect.placeholders(1) + `
      ORDER BY sequence_number ASC LIMIT ` + strconv.Itoa(limit)
    rows, err := a.db.QueryContext(ctx, q, gameID)
    if err != nil { return nil, err }
    defer rows.Close()

    var out []domain.Record
    for rows.Next() {
        var (
            s                          domain.Snapshot
            before, move, color, mode  sql.NullString
            movesRaw, turn, source     string
            white, black               sql.NullInt64
            observedMS                 int64
        )
        if err := rows.Scan(&s.SequenceNumber, &before, &s.PositionAfter, &move, &movesRaw,
            &turn, &color, &white, &black, &source, &mode, &observedMS); err != nil {
            return nil, err
        }
        if err := json.Unmarshal([]byte(movesRaw), &s.MoveList); err != nil {
            return nil, fmt.Errorf("decode move list: %w", err)
        }
        s.PositionBefore, s.Move = before.String, move.String
        s.TurnToMove = domain.Color(turn)
        s.YourColor, s.Mode = domain.Color(color.String), domain.Mode(mode.String)
        s.SourceOfPosition = domain.Source(source)
        s.WhiteTime, s.BlackTime = intPtr(white), intPtr(black)
        s.ObservedAt = time.UnixMilli(observedMS).UTC()
        out = append(out, domain.Record{GameID: gameID, Snapshot: s})
    }
    return out, rows.Err()
}

func nullString(s string) any {
    if s == "" { return nil }
    return s
}

func nullInt(p *int) any {
    if p == nil { return nil }
    return int64(*p)
}

func intPtr(n sql.NullInt64) *int {
    if !n.Valid { return nil }
    v := int(n.Int64)
    return &v
}
