package receipts

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"lukechampine.com/blake3"
)

// Receipt kinds recorded by the journal.
const (
	KindClaim = "claim"
	KindFund  = "fund"
)

// Receipt is a durable record of a reward-token movement out of or into the pool.
type Receipt struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Kind       string    `gorm:"index;not null" json:"kind"`
	AssetID    string    `gorm:"index" json:"assetId,omitempty"`
	Account    string    `gorm:"index;not null" json:"account"`
	Amount     string    `gorm:"not null" json:"amount"`
	PoolAfter  string    `gorm:"not null" json:"poolAfter"`
	LedgerTime uint64    `gorm:"index" json:"ledgerTime"`
	Purged     bool      `json:"purged"`
	Checksum   string    `gorm:"size:64;not null" json:"checksum"`
	CreatedAt  time.Time `json:"createdAt"`
}

// BeforeCreate assigns the identifier and checksum.
func (r *Receipt) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.Checksum = r.ComputeChecksum()
	return nil
}

// ComputeChecksum hashes the receipt's ledger fields with BLAKE3.
func (r *Receipt) ComputeChecksum() string {
	canonical := strings.Join([]string{
		r.ID.String(),
		r.Kind,
		r.AssetID,
		r.Account,
		r.Amount,
		r.PoolAfter,
		strconv.FormatUint(r.LedgerTime, 10),
		strconv.FormatBool(r.Purged),
	}, "|")
	sum := blake3.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether the stored checksum matches the receipt fields.
func (r *Receipt) Verify() bool {
	return r.Checksum == r.ComputeChecksum()
}

// AutoMigrate performs the schema migrations for the journal.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Receipt{})
}
