package sys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

var DB *sql.DB

// InitDatabase opens the sqlite file, applies pragmas and creates the schema.
func InitDatabase(ctx context.Context, dataSourceName string) error {
	// The driver registers itself in init; referencing it keeps the import explicit.
	_ = sqlite3.SQLiteDriver{}

	if dir := filepath.Dir(dataSourceName); dir != "." && dataSourceName != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return err
	}
	db.SetMaxOpenConns(5)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA cache_size=-2000;",
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, p := range pragmas {
		if _, err := db.ExecContext(initCtx, p); err != nil {
			_ = db.Close()
			return fmt.Errorf(MsgDBPragmaFail, p, err)
		}
	}

	tx, err := db.BeginTx(initCtx, nil)
	if err != nil {
		_ = db.Close()
		return err
	}
	defer tx.Rollback()

	tableQueries := []string{
		`CREATE TABLE IF NOT EXISTS bot_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS tracks (
			video_id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			channel TEXT,
			duration_ms INTEGER DEFAULT 0,
			file TEXT NOT NULL,
			search_key TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tracks_search_key ON tracks(search_key)`,
	}

	for _, q := range tableQueries {
		if _, err := tx.ExecContext(initCtx, q); err != nil {
			_ = db.Close()
			return fmt.Errorf(MsgDBSchemaFail, err)
		}
	}

	if err := tx.Commit(); err != nil {
		_ = db.Close()
		return err
	}

	DB = db
	LogDatabase(MsgDBOpened, dataSourceName)
	return nil
}

func CloseDatabase() {
	if DB != nil {
		_ = DB.Close()
		DB = nil
	}
}

// --- Bot Persistence ---

func GetBotConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := DB.QueryRowContext(ctx, "SELECT value FROM bot_config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func SetBotConfig(ctx context.Context, key, value string) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO bot_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// --- Track Index ---

// CachedTrack is one row of the audio cache index.
type CachedTrack struct {
	VideoID   string
	Title     string
	Channel   string
	Duration  time.Duration
	File      string
	SearchKey string
	CreatedAt time.Time
}

func UpsertTrack(ctx context.Context, t *CachedTrack) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO tracks (video_id, title, channel, duration_ms, file, search_key)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(video_id) DO UPDATE SET
			title = excluded.title,
			channel = excluded.channel,
			duration_ms = excluded.duration_ms,
			file = excluded.file,
			search_key = excluded.search_key
	`, t.VideoID, t.Title, t.Channel, t.Duration.Milliseconds(), t.File, t.SearchKey)
	if err != nil {
		return fmt.Errorf(MsgDBTrackSaveFail, t.VideoID, err)
	}
	return nil
}

func GetTrack(ctx context.Context, videoID string) (*CachedTrack, error) {
	row := DB.QueryRowContext(ctx, `
		SELECT video_id, title, channel, duration_ms, file, search_key, created_at
		FROM tracks WHERE video_id = ?`, videoID)
	t, err := scanTrack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// FindTrackBySearchKey returns the newest track whose key matches exactly, then by prefix.
func FindTrackBySearchKey(ctx context.Context, key string) (*CachedTrack, error) {
	if strings.TrimSpace(key) == "" {
		return nil, nil
	}
	row := DB.QueryRowContext(ctx, `
		SELECT video_id, title, channel, duration_ms, file, search_key, created_at
		FROM tracks
		WHERE search_key = ? OR search_key LIKE ?
		ORDER BY (search_key = ?) DESC, created_at DESC
		LIMIT 1`, key, key+"%", key)
	t, err := scanTrack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func AllTracks(ctx context.Context) ([]*CachedTrack, error) {
	rows, err := DB.QueryContext(ctx, `
		SELECT video_id, title, channel, duration_ms, file, search_key, created_at
		FROM tracks ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CachedTrack
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func DeleteTrack(ctx context.Context, videoID string) error {
	_, err := DB.ExecContext(ctx, "DELETE FROM tracks WHERE video_id = ?", videoID)
	return err
}

func CountTracks(ctx context.Context) (int, error) {
	var n int
	err := DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM tracks").Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrack(r rowScanner) (*CachedTrack, error) {
	var (
		t       CachedTrack
		channel sql.NullString
		key     sql.NullString
		ms      int64
	)
	if err := r.Scan(&t.VideoID, &t.Title, &channel, &ms, &t.File, &key, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Channel = channel.String
	t.SearchKey = key.String
	t.Duration = time.Duration(ms) * time.Millisecond
	return &t, nil
}
