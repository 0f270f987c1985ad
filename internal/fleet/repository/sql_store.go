package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/robofleet/robofleet/internal/common/logger"
	"github.com/robofleet/robofleet/internal/db"
	"github.com/robofleet/robofleet/internal/fleet/models"

	apperrors "github.com/robofleet/robofleet/internal/common/errors"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS robots (
		uuid TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		mac  TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS network_info (
		robot_uuid   TEXT PRIMARY KEY,
		info         TEXT NOT NULL,
		last_updated TIMESTAMP NOT NULL
	)`,
}

// SQLStore implements Repository over a db.Pool. Queries are written with
// ? placeholders and rebound for the active driver.
type SQLStore struct {
	pool *db.Pool
	log  *logger.Logger
}

// NewSQLStore initializes the schema and returns the store.
func NewSQLStore(ctx context.Context, pool *db.Pool, log *logger.Logger) (*SQLStore, error) {
	for _, stmt := range schema {
		if _, err := pool.Writer().ExecContext(ctx, stmt); err != nil {
			return nil, apperrors.StorageError("initializing schema", err)
		}
	}
	return &SQLStore{
		pool: pool,
		log:  log.WithFields(zap.String("component", "sql_store")),
	}, nil
}

func (s *SQLStore) RegisterRobot(ctx context.Context, mac, name, uuid string) error {
	query := s.pool.Writer().Rebind(`
		INSERT INTO robots (uuid, name, mac) VALUES (?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET name = excluded.name, mac = excluded.mac`)
	if _, err := s.pool.Writer().ExecContext(ctx, query, uuid, name, mac); err != nil {
		return apperrors.StorageError("registering robot", err)
	}
	return nil
}

func (s *SQLStore) Robots(ctx context.Context) ([]models.RobotIdent, error) {
	var robots []models.RobotIdent
	query := `SELECT mac, name, uuid FROM robots ORDER BY uuid`
	if err := s.pool.Reader().SelectContext(ctx, &robots, query); err != nil {
		return nil, apperrors.StorageError("listing robots", err)
	}
	return robots, nil
}

func (s *SQLStore) RobotByUUID(ctx context.Context, uuid string) (*models.RobotIdent, error) {
	var robot models.RobotIdent
	query := s.pool.Reader().Rebind(`SELECT mac, name, uuid FROM robots WHERE uuid = ?`)
	err := s.pool.Reader().GetContext(ctx, &robot, query, uuid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.StorageError("fetching robot", err)
	}
	return &robot, nil
}

func (s *SQLStore) SetRobotName(ctx context.Context, uuid, name string) error {
	query := s.pool.Writer().Rebind(`UPDATE robots SET name = ? WHERE uuid = ?`)
	if _, err := s.pool.Writer().ExecContext(ctx, query, name, uuid); err != nil {
		return apperrors.StorageError("renaming robot", err)
	}
	return nil
}

func (s *SQLStore) SearchByNameAndMac(ctx context.Context, username, mac string) (*models.RobotIdent, error) {
	var robot models.RobotIdent
	query := s.pool.Reader().Rebind(`
		SELECT mac, name, uuid FROM robots
		WHERE name LIKE ? AND mac = ? LIMIT 1`)
	err := s.pool.Reader().GetContext(ctx, &robot, query, "%"+username+"%", mac)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.StorageError("searching robot", err)
	}
	return &robot, nil
}

func (s *SQLStore) WriteNetworkInfo(ctx context.Context, uuid string, info json.RawMessage) error {
	query := s.pool.Writer().Rebind(`
		INSERT INTO network_info (robot_uuid, info, last_updated) VALUES (?, ?, ?)
		ON CONFLICT(robot_uuid) DO UPDATE SET
			info = excluded.info, last_updated = excluded.last_updated`)
	if _, err := s.pool.Writer().ExecContext(ctx, query, uuid, string(info), time.Now().UTC()); err != nil {
		return apperrors.StorageError("writing network info", err)
	}
	return nil
}

func (s *SQLStore) NetworkInfo(ctx context.Context, uuid string) (*models.NetworkInfoRow, error) {
	var row struct {
		Info        string    `db:"info"`
		LastUpdated time.Time `db:"last_updated"`
	}
	query := s.pool.Reader().Rebind(`SELECT info, last_updated FROM network_info WHERE robot_uuid = ?`)
	err := s.pool.Reader().GetContext(ctx, &row, query, uuid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.StorageError("fetching network info", err)
	}

	var info models.NetworkInfo
	if err := json.Unmarshal([]byte(row.Info), &info); err != nil {
		return nil, apperrors.Serialization("decoding stored network info", err)
	}
	return &models.NetworkInfoRow{Info: info, LastUpdated: row.LastUpdated}, nil
}
