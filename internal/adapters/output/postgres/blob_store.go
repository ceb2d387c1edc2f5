package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agent-bridge/internal/domain"
	"agent-bridge/internal/ports/output"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ output.DurableStore = (*BlobStore)(nil)

// blobRecord is one durable object; the path is the whole identity
type blobRecord struct {
	Path        string    `gorm:"primaryKey;type:text"`
	Data        []byte    `gorm:"type:bytea;not null"`
	ContentType string    `gorm:"type:varchar(255)"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (blobRecord) TableName() string {
	return "blobs"
}

// likeEscaper escapes LIKE wildcards so a prefix matches literally
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// BlobStore struct - Secondary/Driven adapter keeping durable objects in PostgreSQL
type BlobStore struct {
	dbGorm *gorm.DB
}

// NewBlobStore func - Creates new PostgreSQL blob store and migrates its table
func NewBlobStore(dbGorm *gorm.DB) (*BlobStore, error) {
	logrus.Info("Migrate database ...")
	if err := dbGorm.AutoMigrate(&blobRecord{}); err != nil {
		return nil, fmt.Errorf("migrate blobs table: %w", err)
	}
	return &BlobStore{
		dbGorm: dbGorm,
	}, nil
}

// Get func - Reads one object
func (p *BlobStore) Get(ctx context.Context, path string) (*domain.Blob, error) {
	var record blobRecord
	err := p.dbGorm.WithContext(ctx).Where("path = ?", path).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, path)
		}
		logrus.Errorln(err)
		return nil, err
	}
	return &domain.Blob{
		Data:        record.Data,
		ContentType: record.ContentType,
		UpdatedAt:   record.UpdatedAt,
	}, nil
}

// Put func - Inserts or replaces one object
func (p *BlobStore) Put(ctx context.Context, path string, blob domain.Blob) error {
	record := blobRecord{
		Path:        path,
		Data:        blob.Data,
		ContentType: blob.ContentType,
		UpdatedAt:   blob.UpdatedAt,
	}
	if record.Data == nil {
		record.Data = []byte{}
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now()
	}

	err := p.dbGorm.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "content_type", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		logrus.Errorln(err)
		return err
	}
	return nil
}

// Delete func - Removes one object; a missing path is not an error
func (p *BlobStore) Delete(ctx context.Context, path string) error {
	if err := p.dbGorm.WithContext(ctx).Where("path = ?", path).Delete(&blobRecord{}).Error; err != nil {
		logrus.Errorln(err)
		return err
	}
	return nil
}

// List func - Returns every path under prefix in lexical order
func (p *BlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	paths := make([]string, 0)
	err := p.dbGorm.WithContext(ctx).
		Model(&blobRecord{}).
		Where("path LIKE ?", likeEscaper.Replace(prefix)+"%").
		Order("path COLLATE \"C\"").
		Pluck("path", &paths).Error
	if err != nil {
		logrus.Errorln(err)
		return nil, err
	}
	return paths, nil
}

// Ping func
func (p *BlobStore) Ping(ctx context.Context) error {
	sqlDB, err := p.dbGorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
