package database

import (
	"time"

	"gorm.io/gorm"
)

// BlockRecord is one transport block as seen by the receiver, from its
// first round to the round that ended it.
type BlockRecord struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	RNTI       uint16    `gorm:"index;not null" json:"rnti"`
	PID        int       `gorm:"not null" json:"pid"`
	TBSize     int       `gorm:"not null" json:"tb_size"` // bytes
	Segments   int       `gorm:"not null" json:"segments"`
	Qm         int       `json:"qm"`
	Layers     int       `json:"layers"`
	Rounds     int       `gorm:"not null" json:"rounds"`
	OK         bool      `gorm:"index" json:"ok"`
	Iterations int       `json:"iterations"` // of the final round
	Frame      int       `json:"frame"`
	Slot       int       `json:"slot"`
	StartTime  time.Time `gorm:"index;not null" json:"start_time"`
	EndTime    time.Time `gorm:"not null" json:"end_time"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName specifies the table name for BlockRecord
func (BlockRecord) TableName() string {
	return "blocks"
}

// BeforeCreate fills unset timestamps
func (b *BlockRecord) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.StartTime.IsZero() {
		b.StartTime = now
	}
	if b.EndTime.IsZero() {
		b.EndTime = b.StartTime
	}
	return nil
}

// SimResult is one SNR point of a stored BLER sweep
type SimResult struct {
	ID             uint      `gorm:"primarykey" json:"id"`
	RunID          string    `gorm:"index;size:36;not null" json:"run_id"`
	SNRdB          float64   `gorm:"not null" json:"snr_db"`
	TBSize         int       `json:"tb_size"`
	Qm             int       `json:"qm"`
	Layers         int       `json:"layers"`
	TargetRate     int       `json:"target_rate"`
	Blocks         int       `json:"blocks"`
	Round0Errors   int       `json:"round0_errors"`
	ResidualErrors int       `json:"residual_errors"`
	BLER           float64   `json:"bler"`
	ResidualBLER   float64   `json:"residual_bler"`
	MeanIterations float64   `json:"mean_iterations"`
	ThroughputMbps float64   `json:"throughput_mbps"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName specifies the table name for SimResult
func (SimResult) TableName() string {
	return "sim_results"
}
