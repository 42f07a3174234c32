package receipts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"rwastaking/core/events"
	"rwastaking/crypto"
)

// Open connects to the journal database. Driver is sqlite or postgres.
func Open(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("receipts: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("receipts: open %s: %w", driver, err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("receipts: migrate: %w", err)
	}
	return db, nil
}

// Filter narrows a receipt listing.
type Filter struct {
	Kind    string
	Account string
	AssetID string
	// FromTime and ToTime bound LedgerTime inclusively; zero ToTime means open.
	FromTime uint64
	ToTime   uint64
	Limit    int
}

// Journal records pool payouts and deposits as they are emitted by the
// staking engine.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
}

var _ events.Emitter = (*Journal)(nil)

func NewJournal(db *gorm.DB, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{db: db, logger: logger}
}

// Emit implements events.Emitter. Only claims and pool deposits are journalled.
func (j *Journal) Emit(evt events.Event) {
	var rec *Receipt
	switch e := evt.(type) {
	case events.StakeRewardsClaimed:
		rec = &Receipt{
			Kind:       KindClaim,
			AssetID:    e.AssetID,
			Account:    e.Staker.String(),
			Amount:     e.Rewards.Dec(),
			PoolAfter:  e.Pool.Dec(),
			LedgerTime: e.At,
			Purged:     e.Purged,
		}
	case events.StakePoolFunded:
		rec = &Receipt{
			Kind:      KindFund,
			Account:   e.Funder.String(),
			Amount:    e.Amount.Dec(),
			PoolAfter: e.Balance.Dec(),
		}
	default:
		return
	}
	if err := j.Record(context.Background(), rec); err != nil {
		j.logger.Error("receipts: journal write failed", "error", err, "kind", rec.Kind, "asset", rec.AssetID)
	}
}

// Record stores rec.
func (j *Journal) Record(ctx context.Context, rec *Receipt) error {
	return j.db.WithContext(ctx).Create(rec).Error
}

// List returns receipts matching filter in ledger order.
func (j *Journal) List(ctx context.Context, filter Filter) ([]Receipt, error) {
	query := j.db.WithContext(ctx).Model(&Receipt{})
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	if filter.Account != "" {
		if _, err := crypto.ParseAddress(filter.Account); err != nil {
			return nil, err
		}
		query = query.Where("account = ?", filter.Account)
	}
	if filter.AssetID != "" {
		query = query.Where("asset_id = ?", filter.AssetID)
	}
	if filter.FromTime > 0 {
		query = query.Where("ledger_time >= ?", filter.FromTime)
	}
	if filter.ToTime > 0 {
		query = query.Where("ledger_time <= ?", filter.ToTime)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var out []Receipt
	if err := query.Order("created_at ASC").Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Get loads a receipt by id.
func (j *Journal) Get(ctx context.Context, id string) (*Receipt, error) {
	var rec Receipt
	if err := j.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}
