package services

import (
	"context"
	"database/sql"
	"fmt"
)

type SolveService struct {
	db *sql.DB
}

func NewSolveService(db *sql.DB) *SolveService {
	return &SolveService{db: db}
}

// SaveSolve records one completed solve for auditing.
func (s *SolveService) SaveSolve(ctx context.Context, email, grade, model string, answerChars int, duration float64) error {
	query := `INSERT INTO solves (email, school_grade, model, answer_chars, duration) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, email, grade, model, answerChars, duration)
	if err != nil {
		return fmt.Errorf("failed to save solve: %w", err)
	}
	return nil
}
