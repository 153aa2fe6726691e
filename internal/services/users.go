package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"mathsnap/internal/models"
)

type UserService struct {
	db *sql.DB
}

func NewUserService(db *sql.DB) *UserService {
	return &UserService{db: db}
}

func (s *UserService) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	query := `SELECT email, password_hash, school_grade, preferred_language, answer_style,
		is_premium, is_admin, questions_used, last_use_date, created_at, updated_at
		FROM users WHERE email = ?`

	err := s.db.QueryRowContext(ctx, query, email).Scan(
		&user.Email, &user.PasswordHash, &user.SchoolGrade, &user.PreferredLanguage,
		&user.AnswerStyle, &user.IsPremium, &user.IsAdmin, &user.QuestionsUsed,
		&user.LastUseDate, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

func (s *UserService) Create(ctx context.Context, user *models.User) error {
	query := `INSERT INTO users (email, password_hash, school_grade, preferred_language,
		answer_style, is_premium, is_admin, questions_used, last_use_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		user.Email, user.PasswordHash, user.SchoolGrade, user.PreferredLanguage,
		user.AnswerStyle, user.IsPremium, user.IsAdmin, user.QuestionsUsed, user.LastUseDate,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrEmailTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func (s *UserService) UpdatePreferences(ctx context.Context, email, language, style, grade string) error {
	query := `UPDATE users SET preferred_language = ?, answer_style = ?, school_grade = ?
		WHERE email = ?`

	res, err := s.db.ExecContext(ctx, query, language, style, grade, email)
	if err != nil {
		return fmt.Errorf("failed to update preferences: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Identical values also report zero rows; confirm existence before failing.
		if _, err := s.GetByEmail(ctx, email); err != nil {
			return err
		}
	}

	return nil
}

func (s *UserService) SetPremium(ctx context.Context, email string, premium bool) error {
	query := `UPDATE users SET is_premium = ? WHERE email = ?`

	if _, err := s.db.ExecContext(ctx, query, premium, email); err != nil {
		return fmt.Errorf("failed to set premium flag: %w", err)
	}

	return nil
}

func (s *UserService) List(ctx context.Context) ([]models.User, error) {
	query := `SELECT email, school_grade, preferred_language, answer_style,
		is_premium, is_admin, questions_used, last_use_date, created_at, updated_at
		FROM users ORDER BY email`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		if err := rows.Scan(
			&user.Email, &user.SchoolGrade, &user.PreferredLanguage, &user.AnswerStyle,
			&user.IsPremium, &user.IsAdmin, &user.QuestionsUsed, &user.LastUseDate,
			&user.CreatedAt, &user.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	return users, nil
}

// Snapshot returns the quota-relevant subset of an account.
func (s *UserService) Snapshot(ctx context.Context, email string) (*models.AccountSnapshot, error) {
	var snap models.AccountSnapshot
	query := `SELECT email, is_premium, questions_used, last_use_date FROM users WHERE email = ?`

	err := s.db.QueryRowContext(ctx, query, email).Scan(
		&snap.Email, &snap.IsPremium, &snap.QuestionsUsed, &snap.LastUseDate,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account snapshot: %w", err)
	}

	return &snap, nil
}

// ConsumeQuestion advances the daily counter by one as a single conditional
// UPDATE, so two racing consumers can never push a non-premium account past
// the ceiling. A stale last_use_date counts as a fresh day and restarts at 1.
func (s *UserService) ConsumeQuestion(ctx context.Context, email, today string, max int) (int, bool, error) {
	query := `UPDATE users
		SET questions_used = IF(last_use_date = ?, questions_used + 1, 1), last_use_date = ?
		WHERE email = ? AND is_premium = FALSE
		AND (last_use_date <> ? OR questions_used < ?)`

	res, err := s.db.ExecContext(ctx, query, today, today, email, today, max)
	if err != nil {
		return 0, false, fmt.Errorf("failed to consume question: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("failed to consume question: %w", err)
	}

	snap, err := s.Snapshot(ctx, email)
	if err != nil {
		return 0, false, err
	}

	if affected == 1 {
		return snap.QuestionsUsed, true, nil
	}
	if snap.IsPremium {
		return 0, true, nil
	}

	// Not matched and not premium: the account is at today's ceiling.
	used := 0
	if snap.LastUseDate == today {
		used = snap.QuestionsUsed
	}
	return used, false, nil
}
