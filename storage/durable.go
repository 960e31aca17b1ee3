package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"match-state-service/models"
)

// matchRow is the PostgreSQL shape of a MatchRecord. RowID is an internal
// storage identifier and never leaves this file.
type matchRow struct {
	RowID         string  `gorm:"column:row_id;primaryKey;type:uuid"`
	MatchID       string  `gorm:"column:match_id;type:varchar(32);uniqueIndex;not null"`
	PlayerX       string  `gorm:"not null"`
	PlayerO       string  `gorm:"not null;default:''"`
	Board         string  `gorm:"type:char(9);not null"` // one '0'/'1'/'2' per cell
	CurrentTurn   int16   `gorm:"not null"`
	Status        string  `gorm:"type:varchar(16);index;not null"`
	Winner        *int16  `gorm:"column:winner"`
	Wager         float64 `gorm:"not null;default:0"`
	IsPublic      bool    `gorm:"index;not null;default:false"`
	CreatorName   string  `gorm:"not null;default:''"`
	EscrowRef     string  `gorm:"not null;default:''"`
	DepositRefX   string  `gorm:"not null;default:''"`
	DepositRefO   string  `gorm:"not null;default:''"`
	AbandonedBy   string  `gorm:"not null;default:''"`
	AbandonReason string  `gorm:"not null;default:''"`
	CreatedAt     int64   `gorm:"index;not null;autoCreateTime:false"`
	UpdatedAt     int64   `gorm:"not null;autoUpdateTime:false"`
	Version       int64   `gorm:"not null;default:1"`
}

func (matchRow) TableName() string { return "matches" }

// lobbyRow backs the lobby projection table.
type lobbyRow struct {
	MatchID     string  `gorm:"column:match_id;primaryKey;type:varchar(32)"`
	PlayerX     string  `gorm:"not null"`
	CreatorName string  `gorm:"not null;default:''"`
	Wager       float64 `gorm:"not null;default:0"`
	CreatedAt   int64   `gorm:"index;not null;autoCreateTime:false"`
	Status      string  `gorm:"type:varchar(16);not null"`
}

func (lobbyRow) TableName() string { return "lobby_entries" }

// upsertColumns are overwritten when Save hits an existing match_id.
var upsertColumns = []string{
	"player_x", "player_o", "board", "current_turn", "status", "winner",
	"wager", "is_public", "creator_name", "escrow_ref", "deposit_ref_x",
	"deposit_ref_o", "abandoned_by", "abandon_reason", "created_at",
	"updated_at", "version",
}

func encodeBoard(b models.Board) string {
	out := make([]byte, len(b))
	for i, c := range b {
		out[i] = byte('0' + c)
	}
	return string(out)
}

func decodeBoard(s string) (models.Board, error) {
	var b models.Board
	if len(s) != len(b) {
		return b, fmt.Errorf("corrupt board %q", s)
	}
	for i := range b {
		c := models.Mark(s[i] - '0')
		if !c.Valid() {
			return b, fmt.Errorf("corrupt board %q", s)
		}
		b[i] = c
	}
	return b, nil
}

func toRow(rec models.MatchRecord) matchRow {
	row := matchRow{
		RowID:         uuid.NewString(),
		MatchID:       rec.ID,
		PlayerX:       rec.PlayerX,
		PlayerO:       rec.PlayerO,
		Board:         encodeBoard(rec.Board),
		CurrentTurn:   int16(rec.CurrentTurn),
		Status:        string(rec.Status),
		Wager:         rec.Wager,
		IsPublic:      rec.IsPublic,
		CreatorName:   rec.CreatorName,
		EscrowRef:     rec.EscrowRef,
		DepositRefX:   rec.DepositRefX,
		DepositRefO:   rec.DepositRefO,
		AbandonedBy:   rec.AbandonedBy,
		AbandonReason: rec.AbandonReason,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
		Version:       rec.Version,
	}
	if rec.Winner != nil {
		w := int16(*rec.Winner)
		row.Winner = &w
	}
	return row
}

// toRecord strips the storage identifier so both backends return the same shape.
func (r matchRow) toRecord() (models.MatchRecord, error) {
	board, err := decodeBoard(r.Board)
	if err != nil {
		return models.MatchRecord{}, err
	}
	rec := models.MatchRecord{
		ID:            r.MatchID,
		PlayerX:       r.PlayerX,
		PlayerO:       r.PlayerO,
		Board:         board,
		CurrentTurn:   models.Mark(r.CurrentTurn),
		Status:        models.MatchStatus(r.Status),
		Wager:         r.Wager,
		IsPublic:      r.IsPublic,
		CreatorName:   r.CreatorName,
		EscrowRef:     r.EscrowRef,
		DepositRefX:   r.DepositRefX,
		DepositRefO:   r.DepositRefO,
		AbandonedBy:   r.AbandonedBy,
		AbandonReason: r.AbandonReason,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		Version:       r.Version,
	}
	if r.Winner != nil {
		w := models.Mark(*r.Winner)
		rec.Winner = &w
	}
	return rec, nil
}

// columns is the assignment map used by conditional updates; row_id and
// match_id are never rewritten.
func (r matchRow) columns() map[string]any {
	return map[string]any{
		"player_x":       r.PlayerX,
		"player_o":       r.PlayerO,
		"board":          r.Board,
		"current_turn":   r.CurrentTurn,
		"status":         r.Status,
		"winner":         r.Winner,
		"wager":          r.Wager,
		"is_public":      r.IsPublic,
		"creator_name":   r.CreatorName,
		"escrow_ref":     r.EscrowRef,
		"deposit_ref_x":  r.DepositRefX,
		"deposit_ref_o":  r.DepositRefO,
		"abandoned_by":   r.AbandonedBy,
		"abandon_reason": r.AbandonReason,
		"created_at":     r.CreatedAt,
		"updated_at":     r.UpdatedAt,
		"version":        r.Version,
	}
}

// DurableStore is the remote PostgreSQL backend. Each call is bounded by
// callTimeout so a hung connection turns into an error the Router can fail over on.
type DurableStore struct {
	db          *gorm.DB
	callTimeout time.Duration
	now         func() time.Time

	migrateMu sync.Mutex
	migrated  bool
}

// NewDurableStore prepares the connection pool without touching the network;
// the Router's probe does the first round trip.
func NewDurableStore(dsn string, callTimeout time.Duration) (*DurableStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableAutomaticPing: true,
		Logger:               logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewDurableStoreFromDB(db, callTimeout), nil
}

func NewDurableStoreFromDB(db *gorm.DB, callTimeout time.Duration) *DurableStore {
	if callTimeout <= 0 {
		callTimeout = 5 * time.Second
	}
	return &DurableStore{db: db, callTimeout: callTimeout, now: time.Now}
}

func (s *DurableStore) Name() string { return "postgres" }

func (s *DurableStore) bound(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	return s.db.WithContext(ctx), cancel
}

// Ping checks connectivity and makes sure the schema exists.
func (s *DurableStore) Ping(ctx context.Context) error {
	db, cancel := s.bound(ctx)
	defer cancel()

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if err := sqlDB.PingContext(db.Statement.Context); err != nil {
		return fmt.Errorf("%w: ping postgres: %v", ErrBackendUnavailable, err)
	}

	s.migrateMu.Lock()
	defer s.migrateMu.Unlock()
	if s.migrated {
		return nil
	}
	if err := db.AutoMigrate(&matchRow{}, &lobbyRow{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	s.migrated = true
	log.Println("✅ [DurableStore] Schema ready")
	return nil
}

func (s *DurableStore) Save(ctx context.Context, rec models.MatchRecord) (models.MatchRecord, error) {
	db, cancel := s.bound(ctx)
	defer cancel()

	row := toRow(rec)
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "match_id"}},
		DoUpdates: clause.AssignmentColumns(upsertColumns),
	}).Create(&row).Error; err != nil {
		return models.MatchRecord{}, err
	}
	return rec, nil
}

func (s *DurableStore) Get(ctx context.Context, id string) (models.MatchRecord, error) {
	db, cancel := s.bound(ctx)
	defer cancel()

	var row matchRow
	if err := db.First(&row, "match_id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.MatchRecord{}, ErrNotFound
		}
		return models.MatchRecord{}, err
	}
	return row.toRecord()
}

func (s *DurableStore) Update(ctx context.Context, id string, patch models.MatchPatch) (models.MatchRecord, error) {
	db, cancel := s.bound(ctx)
	defer cancel()

	var out models.MatchRecord
	err := db.Transaction(func(tx *gorm.DB) error {
		var row matchRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&row, "match_id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		rec, err := row.toRecord()
		if err != nil {
			return err
		}
		patch.Apply(&rec)
		rec.UpdatedAt = s.now().UnixMilli()
		rec.Version++

		next := toRow(rec)
		if err := tx.Model(&matchRow{}).Where("row_id = ?", row.RowID).
			Updates(next.columns()).Error; err != nil {
			return err
		}
		out = rec
		return nil
	})
	return out, err
}

func (s *DurableStore) Swap(ctx context.Context, rec models.MatchRecord, expectedVersion int64) (models.MatchRecord, error) {
	db, cancel := s.bound(ctx)
	defer cancel()

	res := db.Model(&matchRow{}).
		Where("match_id = ? AND version = ?", rec.ID, expectedVersion).
		Updates(toRow(rec).columns())
	if res.Error != nil {
		return models.MatchRecord{}, res.Error
	}
	if res.RowsAffected == 1 {
		return rec, nil
	}

	var count int64
	if err := db.Model(&matchRow{}).Where("match_id = ?", rec.ID).Count(&count).Error; err != nil {
		return models.MatchRecord{}, err
	}
	if count == 0 {
		return models.MatchRecord{}, ErrNotFound
	}
	return models.MatchRecord{}, ErrVersionConflict
}

func (s *DurableStore) Delete(ctx context.Context, id string) (bool, error) {
	db, cancel := s.bound(ctx)
	defer cancel()

	res := db.Where("match_id = ?", id).Delete(&matchRow{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *DurableStore) ListPublicOpen(ctx context.Context, limit int) ([]models.MatchRecord, error) {
	db, cancel := s.bound(ctx)
	defer cancel()

	q := db.Where("is_public = ? AND status IN ?", true,
		[]string{string(models.StatusWaiting), string(models.StatusPlaying)}).
		Order("created_at DESC").Order("match_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []matchRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toRecords(rows)
}

func (s *DurableStore) DeleteOlderThan(ctx context.Context, cutoff int64) (int, error) {
	db, cancel := s.bound(ctx)
	defer cancel()

	res := db.Where("created_at < ?", cutoff).Delete(&matchRow{})
	return int(res.RowsAffected), res.Error
}

func (s *DurableStore) DeleteAll(ctx context.Context) (int, error) {
	db, cancel := s.bound(ctx)
	defer cancel()

	res := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&matchRow{})
	return int(res.RowsAffected), res.Error
}

func (s *DurableStore) Stats(ctx context.Context) (models.Stats, error) {
	db, cancel := s.bound(ctx)
	defer cancel()

	var groups []struct {
		Status   string
		IsPublic bool
		N        int
	}
	if err := db.Model(&matchRow{}).
		Select("status, is_public, count(*) AS n").
		Group("status, is_public").
		Scan(&groups).Error; err != nil {
		return models.Stats{}, err
	}
	stats := models.NewStats()
	for _, g := range groups {
		stats.Total += g.N
		if g.IsPublic {
			stats.Public += g.N
		}
		stats.ByStatus[models.MatchStatus(g.Status)] += g.N
	}
	return stats, nil
}

func (s *DurableStore) ReplaceLobby(ctx context.Context, entries []models.LobbyEntry) error {
	db, cancel := s.bound(ctx)
	defer cancel()

	rows := make([]lobbyRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, lobbyRow{
			MatchID:     e.ID,
			PlayerX:     e.PlayerX,
			CreatorName: e.CreatorName,
			Wager:       e.Wager,
			CreatedAt:   e.CreatedAt,
			Status:      string(e.Status),
		})
	}
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&lobbyRow{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
}

func (s *DurableStore) Lobby(ctx context.Context) ([]models.LobbyEntry, error) {
	db, cancel := s.bound(ctx)
	defer cancel()

	var rows []lobbyRow
	if err := db.Order("created_at DESC").Order("match_id ASC").
		Limit(models.LobbyLimit).Find(&rows).Error; err != nil {
		return nil, err
	}
	entries := make([]models.LobbyEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, models.LobbyEntry{
			ID:          r.MatchID,
			PlayerX:     r.PlayerX,
			CreatorName: r.CreatorName,
			Wager:       r.Wager,
			CreatedAt:   r.CreatedAt,
			Status:      models.MatchStatus(r.Status),
		})
	}
	return entries, nil
}

func toRecords(rows []matchRow) ([]models.MatchRecord, error) {
	out := make([]models.MatchRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
