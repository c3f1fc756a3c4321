package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/DoyleJ11/festival-ballot/internal/archive"
	"github.com/DoyleJ11/festival-ballot/internal/engine"
)

// Store persists archived ballots in Postgres.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects, pings and migrates the archive table.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve postgres sql db handle: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&ballotModel{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return NewStore(db, logger), nil
}

func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Append(ctx context.Context, e archive.Entry) error {
	row := modelFromEntry(e)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return archive.ErrAlreadyArchived
		}
		return s.logError("archive_append_failed", err,
			zap.String("entry_id", row.ID),
			zap.String("session_id", row.SessionID),
		)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]archive.Entry, error) {
	var rows []ballotModel
	err := inInsertOrder(s.db.WithContext(ctx)).Find(&rows).Error
	if err != nil {
		return nil, s.logError("archive_list_failed", err)
	}

	out := make([]archive.Entry, len(rows))
	for i, row := range rows {
		out[i] = row.toEntry()
	}
	return out, nil
}

// inInsertOrder sorts by the serial column; timestamps can collide.
func inInsertOrder(db *gorm.DB) *gorm.DB {
	return db.Order("seq ASC")
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&ballotModel{}).Count(&n).Error; err != nil {
		return 0, s.logError("archive_count_failed", err)
	}
	return int(n), nil
}

func (s *Store) logError(event string, err error, fields ...zap.Field) error {
	fields = append(fields,
		zap.String("event", event),
		zap.String("layer", "adapter"),
		zap.Error(err),
	)
	s.logger.Error("archive operation failed", fields...)
	return err
}

type ballotModel struct {
	Seq         int64         `gorm:"column:seq;autoIncrement;uniqueIndex"`
	ID          string        `gorm:"column:id;primaryKey"`
	SessionID   string        `gorm:"column:session_id;uniqueIndex"`
	Voter       string        `gorm:"column:voter"`
	Ranks       engine.Ballot `gorm:"column:ranks;type:jsonb;serializer:json"`
	SubmittedAt time.Time     `gorm:"column:submitted_at;index"`
}

func (ballotModel) TableName() string {
	return "archived_ballots"
}

func modelFromEntry(e archive.Entry) ballotModel {
	return ballotModel{
		ID:          strings.TrimSpace(e.ID),
		SessionID:   strings.TrimSpace(e.SessionID),
		Voter:       strings.TrimSpace(e.Voter),
		Ranks:       e.Ranks.Clone(),
		SubmittedAt: e.SubmittedAt.UTC(),
	}
}

func (m ballotModel) toEntry() archive.Entry {
	return archive.Entry{
		ID:          m.ID,
		SessionID:   m.SessionID,
		Voter:       m.Voter,
		Ranks:       m.Ranks,
		SubmittedAt: m.SubmittedAt.UTC(),
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ archive.Store = (*Store)(nil)
