package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/trendboard/opportunity-planner/internal/store/model"
	"gorm.io/gorm"
)

// Board persists terminal boards together with their opportunities. Boards
// are append-only: the current board of a subject is its latest one.
type Board interface {
	Create(ctx context.Context, board model.Board) (*model.Board, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Board, error)
	Latest(ctx context.Context, filter *BoardQueryFilter) (*model.Board, error)
	LatestID(ctx context.Context, subjectID string) (uuid.UUID, error)
}

type BoardStore struct {
	db *gorm.DB
}

// Make sure we conform to Board interface
var _ Board = (*BoardStore)(nil)

func NewBoardStore(db *gorm.DB) Board {
	return &BoardStore{db: db}
}

// Create writes the board and its opportunities in one transaction.
func (s *BoardStore) Create(ctx context.Context, board model.Board) (*model.Board, error) {
	if board.ID == uuid.Nil {
		board.ID = uuid.New()
	}
	board.OpportunityIDs = make([]string, 0, len(board.Opportunities))
	for i := range board.Opportunities {
		o := &board.Opportunities[i]
		if o.ID == uuid.Nil {
			o.ID = uuid.New()
		}
		o.BoardID = board.ID
		o.SubjectID = board.SubjectID
		o.Position = i
		if o.RejectionReasons == nil {
			o.RejectionReasons = []string{}
		}
		board.OpportunityIDs = append(board.OpportunityIDs, o.ID.String())
	}

	err := getDB(ctx, s.db).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&board).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("creating board: %w", err)
	}
	return &board, nil
}

func (s *BoardStore) Get(ctx context.Context, id uuid.UUID) (*model.Board, error) {
	var board model.Board
	err := s.preload(getDB(ctx, s.db)).First(&board, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying board: %w", err)
	}
	return &board, nil
}

func (s *BoardStore) Latest(ctx context.Context, filter *BoardQueryFilter) (*model.Board, error) {
	var boards []model.Board
	tx := s.preload(getDB(ctx, s.db))
	if filter != nil {
		tx = apply(tx, filter.QueryFn)
	}
	if err := tx.Order("created_at DESC").Limit(1).Find(&boards).Error; err != nil {
		return nil, fmt.Errorf("querying latest board: %w", err)
	}
	if len(boards) == 0 {
		return nil, ErrRecordNotFound
	}
	return &boards[0], nil
}

// LatestID returns the id of the subject's latest board in any state without
// loading it.
func (s *BoardStore) LatestID(ctx context.Context, subjectID string) (uuid.UUID, error) {
	var ids []uuid.UUID
	err := getDB(ctx, s.db).Model(&model.Board{}).
		Where("subject_id = ?", subjectID).
		Order("created_at DESC").
		Limit(1).
		Pluck("id", &ids).Error
	if err != nil {
		return uuid.Nil, fmt.Errorf("querying latest board id: %w", err)
	}
	if len(ids) == 0 {
		return uuid.Nil, ErrRecordNotFound
	}
	return ids[0], nil
}

func (s *BoardStore) preload(tx *gorm.DB) *gorm.DB {
	return tx.Preload("Opportunities", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	})
}
