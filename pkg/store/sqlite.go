// Package store provides persistence for users, servers, channels,
// memberships, friendships, and applications.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/govox/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

// SQLiteStore is the default durable DataStore implementation.
type SQLiteStore struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database and runs migrations.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}

	ctx := context.Background()

	// Enable WAL mode for better concurrent read performance
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: enable FK: %w", err)
	}
	// Set busy timeout to avoid "database is locked" under concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set busy_timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id                 TEXT PRIMARY KEY,
		username           TEXT NOT NULL UNIQUE CHECK(length(username) > 0 AND length(username) <= 32),
		display_name       TEXT NOT NULL DEFAULT '',
		avatar             TEXT NOT NULL DEFAULT '',
		status             TEXT NOT NULL DEFAULT '',
		current_server_id  TEXT NOT NULL DEFAULT '',
		current_channel_id TEXT NOT NULL DEFAULT '',
		last_active_at     TEXT,
		created_at         TEXT NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS servers (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		avatar      TEXT NOT NULL DEFAULT '',
		owner_id    TEXT NOT NULL,
		created_at  TEXT NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS channels (
		id         TEXT PRIMARY KEY,
		server_id  TEXT NOT NULL,
		name       TEXT NOT NULL,
		password   TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	);
	CREATE INDEX IF NOT EXISTS idx_channels_server ON channels(server_id);

	CREATE TABLE IF NOT EXISTS channel_members (
		channel_id TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		PRIMARY KEY (channel_id, user_id)
	);
	CREATE INDEX IF NOT EXISTS idx_channel_members_user ON channel_members(user_id);

	CREATE TABLE IF NOT EXISTS members (
		server_id  TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		nickname   TEXT NOT NULL DEFAULT '',
		level      INTEGER NOT NULL DEFAULT 2 CHECK(level >= 0 AND level <= 8),
		online     INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		PRIMARY KEY (server_id, user_id)
	);
	CREATE INDEX IF NOT EXISTS idx_members_user ON members(user_id);

	CREATE TABLE IF NOT EXISTS friendships (
		user_a     TEXT NOT NULL,
		user_b     TEXT NOT NULL,
		group_id   TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		PRIMARY KEY (user_a, user_b)
	);
	CREATE INDEX IF NOT EXISTS idx_friendships_b ON friendships(user_b);

	CREATE TABLE IF NOT EXISTS friend_groups (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		name       TEXT NOT NULL,
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	);
	CREATE INDEX IF NOT EXISTS idx_friend_groups_user ON friend_groups(user_id);

	CREATE TABLE IF NOT EXISTS friend_applications (
		sender_id  TEXT NOT NULL,
		target_id  TEXT NOT NULL,
		status     TEXT NOT NULL DEFAULT 'pending',
		message    TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		PRIMARY KEY (sender_id, target_id)
	);
	CREATE INDEX IF NOT EXISTS idx_friend_applications_target ON friend_applications(target_id);

	CREATE TABLE IF NOT EXISTS member_applications (
		user_id    TEXT NOT NULL,
		server_id  TEXT NOT NULL,
		status     TEXT NOT NULL DEFAULT 'pending',
		message    TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		PRIMARY KEY (user_id, server_id)
	);
	CREATE INDEX IF NOT EXISTS idx_member_applications_server ON member_applications(server_id);
	`

	ctx := context.Background()
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version    int
		statements []string
	}{
		{
			version:    1,
			statements: []string{schema},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("store: migrate v%d: %w", m.version, err)
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("store: create schema_migrations: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("store: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("store: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("store: read schema version: %w", err)
	}
	return version, nil
}

func (s *SQLiteStore) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("store: update schema version: %w", err)
	}
	return nil
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

func parseDBTimeNull(value sql.NullString) (time.Time, error) {
	if !value.Valid || value.String == "" {
		return time.Time{}, nil
	}
	return parseDBTime(value.String)
}

// ---- Users ----

// CreateUser persists a new user, assigning an ID if none is set.
func (s *SQLiteStore) CreateUser(u *model.User) error {
	if err := model.ValidateUsername(u.Username); err != nil {
		return fmt.Errorf("store: create user: %w", err)
	}
	if u.ID == "" {
		u.ID = model.NewID()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	var lastActive *string
	if !u.LastActiveAt.IsZero() {
		v := formatDBTime(u.LastActiveAt)
		lastActive = &v
	}
	_, err := s.db.ExecContext(context.Background(),
		`INSERT INTO users (id, username, display_name, avatar, status, current_server_id, current_channel_id, last_active_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.DisplayName, u.Avatar, u.Status, u.CurrentServerID, u.CurrentChannelID, lastActive, formatDBTime(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: create user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*model.User, error) {
	u := &model.User{}
	var lastActive sql.NullString
	var createdAt string
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Avatar, &u.Status,
		&u.CurrentServerID, &u.CurrentChannelID, &lastActive, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if u.LastActiveAt, err = parseDBTimeNull(lastActive); err != nil {
		return nil, err
	}
	if u.CreatedAt, err = parseDBTime(createdAt); err != nil {
		return nil, err
	}
	return u, nil
}

const userColumns = "id, username, display_name, avatar, status, current_server_id, current_channel_id, last_active_at, created_at"

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(id string) (*model.User, error) {
	u, err := s.scanUser(s.db.QueryRowContext(context.Background(),
		"SELECT "+userColumns+" FROM users WHERE id = ?", id))
	if err != nil {
		return nil, fmt.Errorf("store: get user: %w", err)
	}
	return u, nil
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(username string) (*model.User, error) {
	u, err := s.scanUser(s.db.QueryRowContext(context.Background(),
		"SELECT "+userColumns+" FROM users WHERE username = ?", username))
	if err != nil {
		return nil, fmt.Errorf("store: get user by username: %w", err)
	}
	return u, nil
}

// UpdateUser applies a partial field patch to a user.
func (s *SQLiteStore) UpdateUser(id string, patch UserPatch) error {
	var sets []string
	var args []any
	if patch.DisplayName != nil {
		sets, args = append(sets, "display_name = ?"), append(args, *patch.DisplayName)
	}
	if patch.Avatar != nil {
		sets, args = append(sets, "avatar = ?"), append(args, *patch.Avatar)
	}
	if patch.Status != nil {
		sets, args = append(sets, "status = ?"), append(args, *patch.Status)
	}
	if patch.CurrentServerID != nil {
		sets, args = append(sets, "current_server_id = ?"), append(args, *patch.CurrentServerID)
	}
	if patch.CurrentChannelID != nil {
		sets, args = append(sets, "current_channel_id = ?"), append(args, *patch.CurrentChannelID)
	}
	if patch.LastActiveAt != nil {
		sets, args = append(sets, "last_active_at = ?"), append(args, formatDBTime(*patch.LastActiveAt))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	_, err := s.db.ExecContext(context.Background(),
		"UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("store: update user: %w", err)
	}
	return nil
}

// SearchUsers returns users whose username or display name contains query.
func (s *SQLiteStore) SearchUsers(query string) ([]model.User, error) {
	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(context.Background(),
		"SELECT "+userColumns+" FROM users WHERE username LIKE ? OR display_name LIKE ? ORDER BY username",
		pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("store: search users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []model.User
	for rows.Next() {
		var u model.User
		var lastActive sql.NullString
		var createdAt string
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Avatar, &u.Status,
			&u.CurrentServerID, &u.CurrentChannelID, &lastActive, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan user: %w", err)
		}
		if u.LastActiveAt, err = parseDBTimeNull(lastActive); err != nil {
			return nil, fmt.Errorf("store: scan user: %w", err)
		}
		if u.CreatedAt, err = parseDBTime(createdAt); err != nil {
			return nil, fmt.Errorf("store: scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ---- Servers ----

// CreateServer persists a new server, assigning an ID if none is set.
func (s *SQLiteStore) CreateServer(srv *model.Server) error {
	if err := srv.Validate(); err != nil {
		return fmt.Errorf("store: create server: %w", err)
	}
	if srv.ID == "" {
		srv.ID = model.NewID()
	}
	if srv.CreatedAt.IsZero() {
		srv.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(context.Background(),
		"INSERT INTO servers (id, name, description, avatar, owner_id, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		srv.ID, srv.Name, srv.Description, srv.Avatar, srv.OwnerID, formatDBTime(srv.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: create server: %w", err)
	}
	return nil
}

// GetServer retrieves a server by ID.
func (s *SQLiteStore) GetServer(id string) (*model.Server, error) {
	srv := &model.Server{}
	var createdAt string
	err := s.db.QueryRowContext(context.Background(),
		"SELECT id, name, description, avatar, owner_id, created_at FROM servers WHERE id = ?", id).
		Scan(&srv.ID, &srv.Name, &srv.Description, &srv.Avatar, &srv.OwnerID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get server: %w", err)
	}
	if srv.CreatedAt, err = parseDBTime(createdAt); err != nil {
		return nil, fmt.Errorf("store: get server: %w", err)
	}
	return srv, nil
}

// UpdateServer applies a partial field patch to a server.
func (s *SQLiteStore) UpdateServer(id string, patch ServerPatch) error {
	var sets []string
	var args []any
	if patch.Name != nil {
		sets, args = append(sets, "name = ?"), append(args, *patch.Name)
	}
	if patch.Description != nil {
		sets, args = append(sets, "description = ?"), append(args, *patch.Description)
	}
	if patch.Avatar != nil {
		sets, args = append(sets, "avatar = ?"), append(args, *patch.Avatar)
	}
	if patch.OwnerID != nil {
		sets, args = append(sets, "owner_id = ?"), append(args, *patch.OwnerID)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	_, err := s.db.ExecContext(context.Background(),
		"UPDATE servers SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("store: update server: %w", err)
	}
	return nil
}

// UserServers returns the servers a user is a member of.
func (s *SQLiteStore) UserServers(userID string) ([]model.Server, error) {
	rows, err := s.db.QueryContext(context.Background(),
		`SELECT s.id, s.name, s.description, s.avatar, s.owner_id, s.created_at
		 FROM servers s JOIN members m ON m.server_id = s.id
		 WHERE m.user_id = ? ORDER BY s.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: user servers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var servers []model.Server
	for rows.Next() {
		var srv model.Server
		var createdAt string
		if err := rows.Scan(&srv.ID, &srv.Name, &srv.Description, &srv.Avatar, &srv.OwnerID, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan server: %w", err)
		}
		if srv.CreatedAt, err = parseDBTime(createdAt); err != nil {
			return nil, fmt.Errorf("store: scan server: %w", err)
		}
		servers = append(servers, srv)
	}
	return servers, rows.Err()
}

// ---- Channels ----

// CreateChannel persists a new channel, assigning an ID if none is set.
func (s *SQLiteStore) CreateChannel(ch *model.Channel) error {
	if err := ch.Validate(); err != nil {
		return fmt.Errorf("store: create channel: %w", err)
	}
	if ch.ID == "" {
		ch.ID = model.NewID()
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(context.Background(),
		"INSERT INTO channels (id, server_id, name, password, created_at) VALUES (?, ?, ?, ?, ?)",
		ch.ID, ch.ServerID, ch.Name, ch.Password, formatDBTime(ch.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: create channel: %w", err)
	}
	return nil
}

// GetChannel retrieves a channel by ID.
func (s *SQLiteStore) GetChannel(id string) (*model.Channel, error) {
	ch := &model.Channel{}
	var createdAt string
	err := s.db.QueryRowContext(context.Background(),
		"SELECT id, server_id, name, password, created_at FROM channels WHERE id = ?", id).
		Scan(&ch.ID, &ch.ServerID, &ch.Name, &ch.Password, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get channel: %w", err)
	}
	if ch.CreatedAt, err = parseDBTime(createdAt); err != nil {
		return nil, fmt.Errorf("store: get channel: %w", err)
	}
	return ch, nil
}

// DeleteChannel removes a channel and its live member set.
func (s *SQLiteStore) DeleteChannel(id string) error {
	ctx := context.Background()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM channel_members WHERE channel_id = ?", id); err != nil {
		return fmt.Errorf("store: delete channel members: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM channels WHERE id = ?", id); err != nil {
		return fmt.Errorf("store: delete channel: %w", err)
	}
	return nil
}

// ServerChannels returns all channels belonging to a server.
func (s *SQLiteStore) ServerChannels(serverID string) ([]model.Channel, error) {
	rows, err := s.db.QueryContext(context.Background(),
		"SELECT id, server_id, name, password, created_at FROM channels WHERE server_id = ? ORDER BY created_at, id", serverID)
	if err != nil {
		return nil, fmt.Errorf("store: server channels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var channels []model.Channel
	for rows.Next() {
		var ch model.Channel
		var createdAt string
		if err := rows.Scan(&ch.ID, &ch.ServerID, &ch.Name, &ch.Password, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan channel: %w", err)
		}
		if ch.CreatedAt, err = parseDBTime(createdAt); err != nil {
			return nil, fmt.Errorf("store: scan channel: %w", err)
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// ChannelMembers returns the user IDs currently in a channel.
func (s *SQLiteStore) ChannelMembers(channelID string) ([]string, error) {
	rows, err := s.db.QueryContext(context.Background(),
		"SELECT user_id FROM channel_members WHERE channel_id = ? ORDER BY user_id", channelID)
	if err != nil {
		return nil, fmt.Errorf("store: channel members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan channel member: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// AddChannelMember adds a user to a channel's live member set.
func (s *SQLiteStore) AddChannelMember(channelID, userID string) error {
	_, err := s.db.ExecContext(context.Background(),
		"INSERT OR IGNORE INTO channel_members (channel_id, user_id) VALUES (?, ?)", channelID, userID)
	if err != nil {
		return fmt.Errorf("store: add channel member: %w", err)
	}
	return nil
}

// RemoveChannelMember removes a user from a channel's live member set.
func (s *SQLiteStore) RemoveChannelMember(channelID, userID string) error {
	_, err := s.db.ExecContext(context.Background(),
		"DELETE FROM channel_members WHERE channel_id = ? AND user_id = ?", channelID, userID)
	if err != nil {
		return fmt.Errorf("store: remove channel member: %w", err)
	}
	return nil
}

// ClearChannelMembers empties a channel's live member set.
func (s *SQLiteStore) ClearChannelMembers(channelID string) error {
	_, err := s.db.ExecContext(context.Background(),
		"DELETE FROM channel_members WHERE channel_id = ?", channelID)
	if err != nil {
		return fmt.Errorf("store: clear channel members: %w", err)
	}
	return nil
}

// ---- Members ----

// UpsertMember creates or replaces a server membership record.
func (s *SQLiteStore) UpsertMember(m *model.Member) error {
	if !m.Level.Valid() {
		return fmt.Errorf("store: upsert member: %w", model.ErrInvalidLevel)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	online := 0
	if m.Online {
		online = 1
	}
	_, err := s.db.ExecContext(context.Background(),
		`INSERT INTO members (server_id, user_id, nickname, level, online, created_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(server_id, user_id) DO UPDATE SET nickname = excluded.nickname, level = excluded.level, online = excluded.online`,
		m.ServerID, m.UserID, m.Nickname, int(m.Level), online, formatDBTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: upsert member: %w", err)
	}
	return nil
}

// GetMember retrieves a membership record.
func (s *SQLiteStore) GetMember(serverID, userID string) (*model.Member, error) {
	m := &model.Member{}
	var level, online int
	var createdAt string
	err := s.db.QueryRowContext(context.Background(),
		"SELECT server_id, user_id, nickname, level, online, created_at FROM members WHERE server_id = ? AND user_id = ?",
		serverID, userID).
		Scan(&m.ServerID, &m.UserID, &m.Nickname, &level, &online, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get member: %w", err)
	}
	m.Level = model.Level(level)
	m.Online = online != 0
	if m.CreatedAt, err = parseDBTime(createdAt); err != nil {
		return nil, fmt.Errorf("store: get member: %w", err)
	}
	return m, nil
}

// UpdateMember applies a partial field patch to a membership record.
func (s *SQLiteStore) UpdateMember(serverID, userID string, patch MemberPatch) error {
	var sets []string
	var args []any
	if patch.Nickname != nil {
		sets, args = append(sets, "nickname = ?"), append(args, *patch.Nickname)
	}
	if patch.Level != nil {
		if !patch.Level.Valid() {
			return fmt.Errorf("store: update member: %w", model.ErrInvalidLevel)
		}
		sets, args = append(sets, "level = ?"), append(args, int(*patch.Level))
	}
	if patch.Online != nil {
		online := 0
		if *patch.Online {
			online = 1
		}
		sets, args = append(sets, "online = ?"), append(args, online)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, serverID, userID)
	_, err := s.db.ExecContext(context.Background(),
		"UPDATE members SET "+strings.Join(sets, ", ")+" WHERE server_id = ? AND user_id = ?", args...)
	if err != nil {
		return fmt.Errorf("store: update member: %w", err)
	}
	return nil
}

// DeleteMember removes a user from a server's member set.
func (s *SQLiteStore) DeleteMember(serverID, userID string) error {
	_, err := s.db.ExecContext(context.Background(),
		"DELETE FROM members WHERE server_id = ? AND user_id = ?", serverID, userID)
	if err != nil {
		return fmt.Errorf("store: delete member: %w", err)
	}
	return nil
}

// ServerMembers returns a server's full member set.
func (s *SQLiteStore) ServerMembers(serverID string) ([]model.Member, error) {
	rows, err := s.db.QueryContext(context.Background(),
		"SELECT server_id, user_id, nickname, level, online, created_at FROM members WHERE server_id = ? ORDER BY user_id", serverID)
	if err != nil {
		return nil, fmt.Errorf("store: server members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var members []model.Member
	for rows.Next() {
		var m model.Member
		var level, online int
		var createdAt string
		if err := rows.Scan(&m.ServerID, &m.UserID, &m.Nickname, &level, &online, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan member: %w", err)
		}
		m.Level = model.Level(level)
		m.Online = online != 0
		if m.CreatedAt, err = parseDBTime(createdAt); err != nil {
			return nil, fmt.Errorf("store: scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// ---- Friendships ----

// CreateFriendship persists a friendship; the pair is stored canonically ordered.
func (s *SQLiteStore) CreateFriendship(f *model.Friendship) error {
	f.UserA, f.UserB = model.NormalizePair(f.UserA, f.UserB)
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(context.Background(),
		"INSERT INTO friendships (user_a, user_b, group_id, created_at) VALUES (?, ?, ?, ?)",
		f.UserA, f.UserB, f.GroupID, formatDBTime(f.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: create friendship: %w", err)
	}
	return nil
}

// DeleteFriendship removes the friendship between two users.
func (s *SQLiteStore) DeleteFriendship(a, b string) error {
	a, b = model.NormalizePair(a, b)
	_, err := s.db.ExecContext(context.Background(),
		"DELETE FROM friendships WHERE user_a = ? AND user_b = ?", a, b)
	if err != nil {
		return fmt.Errorf("store: delete friendship: %w", err)
	}
	return nil
}

// UserFriends returns all friendships involving a user.
func (s *SQLiteStore) UserFriends(userID string) ([]model.Friendship, error) {
	rows, err := s.db.QueryContext(context.Background(),
		"SELECT user_a, user_b, group_id, created_at FROM friendships WHERE user_a = ? OR user_b = ? ORDER BY created_at",
		userID, userID)
	if err != nil {
		return nil, fmt.Errorf("store: user friends: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var friends []model.Friendship
	for rows.Next() {
		var f model.Friendship
		var createdAt string
		if err := rows.Scan(&f.UserA, &f.UserB, &f.GroupID, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan friendship: %w", err)
		}
		if f.CreatedAt, err = parseDBTime(createdAt); err != nil {
			return nil, fmt.Errorf("store: scan friendship: %w", err)
		}
		friends = append(friends, f)
	}
	return friends, rows.Err()
}

// ---- Friend groups ----

// CreateFriendGroup persists a friend group, assigning an ID if none is set.
func (s *SQLiteStore) CreateFriendGroup(g *model.FriendGroup) error {
	if g.ID == "" {
		g.ID = model.NewID()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(context.Background(),
		"INSERT INTO friend_groups (id, user_id, name, created_at) VALUES (?, ?, ?, ?)",
		g.ID, g.UserID, g.Name, formatDBTime(g.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: create friend group: %w", err)
	}
	return nil
}

// DeleteFriendGroup removes a friend group by ID.
func (s *SQLiteStore) DeleteFriendGroup(id string) error {
	_, err := s.db.ExecContext(context.Background(), "DELETE FROM friend_groups WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("store: delete friend group: %w", err)
	}
	return nil
}

// UserFriendGroups returns a user's friend groups.
func (s *SQLiteStore) UserFriendGroups(userID string) ([]model.FriendGroup, error) {
	rows, err := s.db.QueryContext(context.Background(),
		"SELECT id, user_id, name, created_at FROM friend_groups WHERE user_id = ? ORDER BY created_at, id", userID)
	if err != nil {
		return nil, fmt.Errorf("store: user friend groups: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var groups []model.FriendGroup
	for rows.Next() {
		var g model.FriendGroup
		var createdAt string
		if err := rows.Scan(&g.ID, &g.UserID, &g.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan friend group: %w", err)
		}
		if g.CreatedAt, err = parseDBTime(createdAt); err != nil {
			return nil, fmt.Errorf("store: scan friend group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// ---- Friend applications ----

// CreateFriendApplication persists a friend application.
func (s *SQLiteStore) CreateFriendApplication(a *model.FriendApplication) error {
	if a.Status == "" {
		a.Status = model.StatusPending
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(context.Background(),
		"INSERT INTO friend_applications (sender_id, target_id, status, message, created_at) VALUES (?, ?, ?, ?, ?)",
		a.SenderID, a.TargetID, string(a.Status), a.Message, formatDBTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: create friend application: %w", err)
	}
	return nil
}

// FriendApplication retrieves an application.
func (s *SQLiteStore) FriendApplication(senderID, targetID string) (*model.FriendApplication, error) {
	a := &model.FriendApplication{}
	var status, createdAt string
	err := s.db.QueryRowContext(context.Background(),
		"SELECT sender_id, target_id, status, message, created_at FROM friend_applications WHERE sender_id = ? AND target_id = ?",
		senderID, targetID).
		Scan(&a.SenderID, &a.TargetID, &status, &a.Message, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get friend application: %w", err)
	}
	a.Status = model.Status(status)
	if a.CreatedAt, err = parseDBTime(createdAt); err != nil {
		return nil, fmt.Errorf("store: get friend application: %w", err)
	}
	return a, nil
}

// UpdateFriendApplicationStatus resolves an application.
func (s *SQLiteStore) UpdateFriendApplicationStatus(senderID, targetID string, status model.Status) error {
	_, err := s.db.ExecContext(context.Background(),
		"UPDATE friend_applications SET status = ? WHERE sender_id = ? AND target_id = ?",
		string(status), senderID, targetID)
	if err != nil {
		return fmt.Errorf("store: update friend application: %w", err)
	}
	return nil
}

// DeleteFriendApplication removes an application.
func (s *SQLiteStore) DeleteFriendApplication(senderID, targetID string) error {
	_, err := s.db.ExecContext(context.Background(),
		"DELETE FROM friend_applications WHERE sender_id = ? AND target_id = ?", senderID, targetID)
	if err != nil {
		return fmt.Errorf("store: delete friend application: %w", err)
	}
	return nil
}

// UserFriendApplications returns applications targeting a user.
func (s *SQLiteStore) UserFriendApplications(targetID string) ([]model.FriendApplication, error) {
	rows, err := s.db.QueryContext(context.Background(),
		"SELECT sender_id, target_id, status, message, created_at FROM friend_applications WHERE target_id = ? ORDER BY created_at",
		targetID)
	if err != nil {
		return nil, fmt.Errorf("store: user friend applications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var apps []model.FriendApplication
	for rows.Next() {
		var a model.FriendApplication
		var status, createdAt string
		if err := rows.Scan(&a.SenderID, &a.TargetID, &status, &a.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan friend application: %w", err)
		}
		a.Status = model.Status(status)
		if a.CreatedAt, err = parseDBTime(createdAt); err != nil {
			return nil, fmt.Errorf("store: scan friend application: %w", err)
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

// ---- Member applications ----

// CreateMemberApplication persists a member application.
func (s *SQLiteStore) CreateMemberApplication(a *model.MemberApplication) error {
	if a.Status == "" {
		a.Status = model.StatusPending
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(context.Background(),
		"INSERT INTO member_applications (user_id, server_id, status, message, created_at) VALUES (?, ?, ?, ?, ?)",
		a.UserID, a.ServerID, string(a.Status), a.Message, formatDBTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: create member application: %w", err)
	}
	return nil
}

// MemberApplication retrieves an application.
func (s *SQLiteStore) MemberApplication(userID, serverID string) (*model.MemberApplication, error) {
	a := &model.MemberApplication{}
	var status, createdAt string
	err := s.db.QueryRowContext(context.Background(),
		"SELECT user_id, server_id, status, message, created_at FROM member_applications WHERE user_id = ? AND server_id = ?",
		userID, serverID).
		Scan(&a.UserID, &a.ServerID, &status, &a.Message, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get member application: %w", err)
	}
	a.Status = model.Status(status)
	if a.CreatedAt, err = parseDBTime(createdAt); err != nil {
		return nil, fmt.Errorf("store: get member application: %w", err)
	}
	return a, nil
}

// UpdateMemberApplicationStatus resolves an application.
func (s *SQLiteStore) UpdateMemberApplicationStatus(userID, serverID string, status model.Status) error {
	_, err := s.db.ExecContext(context.Background(),
		"UPDATE member_applications SET status = ? WHERE user_id = ? AND server_id = ?",
		string(status), userID, serverID)
	if err != nil {
		return fmt.Errorf("store: update member application: %w", err)
	}
	return nil
}

// DeleteMemberApplication removes an application.
func (s *SQLiteStore) DeleteMemberApplication(userID, serverID string) error {
	_, err := s.db.ExecContext(context.Background(),
		"DELETE FROM member_applications WHERE user_id = ? AND server_id = ?", userID, serverID)
	if err != nil {
		return fmt.Errorf("store: delete member application: %w", err)
	}
	return nil
}

// ServerMemberApplications returns applications for a server.
func (s *SQLiteStore) ServerMemberApplications(serverID string) ([]model.MemberApplication, error) {
	rows, err := s.db.QueryContext(context.Background(),
		"SELECT user_id, server_id, status, message, created_at FROM member_applications WHERE server_id = ? ORDER BY created_at",
		serverID)
	if err != nil {
		return nil, fmt.Errorf("store: server member applications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var apps []model.MemberApplication
	for rows.Next() {
		var a model.MemberApplication
		var status, createdAt string
		if err := rows.Scan(&a.UserID, &a.ServerID, &status, &a.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan member application: %w", err)
		}
		a.Status = model.Status(status)
		if a.CreatedAt, err = parseDBTime(createdAt); err != nil {
			return nil, fmt.Errorf("store: scan member application: %w", err)
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}
