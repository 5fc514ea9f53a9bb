package database

import (
	"time"

	"gorm.io/gorm"
)

// BlockRepository handles block log operations
type BlockRepository struct {
	db *gorm.DB
}

// NewBlockRepository creates a new block repository
func NewBlockRepository(db *gorm.DB) *BlockRepository {
	return &BlockRepository{db: db}
}

// Create adds a block record
func (r *BlockRepository) Create(b *BlockRecord) error {
	return r.db.Create(b).Error
}

// GetRecent retrieves the most recent N blocks
func (r *BlockRepository) GetRecent(limit int) ([]BlockRecord, error) {
	var blocks []BlockRecord
	err := r.db.Order("start_time DESC").Limit(limit).Find(&blocks).Error
	return blocks, err
}

// GetRecentPaginated retrieves blocks with pagination
func (r *BlockRepository) GetRecentPaginated(page, perPage int) ([]BlockRecord, int64, error) {
	var blocks []BlockRecord
	var total int64

	if err := r.db.Model(&BlockRecord{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * perPage
	err := r.db.Order("start_time DESC").
		Offset(offset).
		Limit(perPage).
		Find(&blocks).Error

	return blocks, total, err
}

// GetByRNTI retrieves blocks of one UE
func (r *BlockRepository) GetByRNTI(rnti uint16, limit int) ([]BlockRecord, error) {
	var blocks []BlockRecord
	err := r.db.Where("rnti = ?", rnti).
		Order("start_time DESC").
		Limit(limit).
		Find(&blocks).Error
	return blocks, err
}

// Outcomes counts delivered and lost blocks
func (r *BlockRepository) Outcomes() (ok, failed int64, err error) {
	if err = r.db.Model(&BlockRecord{}).Where("ok = ?", true).Count(&ok).Error; err != nil {
		return 0, 0, err
	}
	err = r.db.Model(&BlockRecord{}).Where("ok = ?", false).Count(&failed).Error
	return ok, failed, err
}

// DeleteOlderThan deletes blocks that started before the given time
func (r *BlockRepository) DeleteOlderThan(before time.Time) (int64, error) {
	result := r.db.Where("start_time < ?", before).Delete(&BlockRecord{})
	return result.RowsAffected, result.Error
}

// SimResultRepository stores BLER sweep points
type SimResultRepository struct {
	db *gorm.DB
}

// NewSimResultRepository creates a new sweep result repository
func NewSimResultRepository(db *gorm.DB) *SimResultRepository {
	return &SimResultRepository{db: db}
}

// CreateBatch stores all points of a run in one transaction
func (r *SimResultRepository) CreateBatch(results []SimResult) error {
	if len(results) == 0 {
		return nil
	}
	return r.db.Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(results, 100).Error
	})
}

// GetByRun returns the points of one run ordered by SNR
func (r *SimResultRepository) GetByRun(runID string) ([]SimResult, error) {
	var results []SimResult
	err := r.db.Where("run_id = ?", runID).Order("snr_db ASC").Find(&results).Error
	return results, err
}

// Runs lists run ids, most recent first
func (r *SimResultRepository) Runs(limit int) ([]string, error) {
	var runs []string
	err := r.db.Model(&SimResult{}).
		Select("run_id").
		Group("run_id").
		Order("MAX(created_at) DESC").
		Limit(limit).
		Pluck("run_id", &runs).Error
	return runs, err
}
