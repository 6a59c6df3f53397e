package store

import (
	"context"

	"gorm.io/gorm"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	Evidence() Evidence
	Job() Job
	Board() Board
	Close() error
}

type DataStore struct {
	db       *gorm.DB
	evidence Evidence
	job      Job
	board    Board
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		evidence: NewEvidenceStore(db),
		job:      NewJobStore(db),
		board:    NewBoardStore(db),
		db:       db,
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db)
}

func (s *DataStore) Evidence() Evidence {
	return s.evidence
}

func (s *DataStore) Job() Job {
	return s.job
}

func (s *DataStore) Board() Board {
	return s.board
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func getDB(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx := FromContext(ctx); tx != nil {
		return tx
	}
	return db.WithContext(ctx)
}
