package models

import (
	"time"
)

// DateLayout is the calendar-date format stored in users.last_use_date.
// Day boundaries are evaluated against the UTC calendar date.
const DateLayout = "2006-01-02"

type User struct {
	Email             string    `json:"email" db:"email"`
	PasswordHash      string    `json:"-" db:"password_hash"`
	SchoolGrade       string    `json:"school_grade" db:"school_grade"`
	PreferredLanguage string    `json:"preferred_language" db:"preferred_language"`
	AnswerStyle       string    `json:"answer_style" db:"answer_style"`
	IsPremium         bool      `json:"is_premium" db:"is_premium"`
	IsAdmin           bool      `json:"is_admin" db:"is_admin"`
	QuestionsUsed     int       `json:"questions_used" db:"questions_used"`
	LastUseDate       string    `json:"last_use_date" db:"last_use_date"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// AccountSnapshot is the subset of User the quota tracker reads. It is also
// what gets cached in Redis between status checks.
type AccountSnapshot struct {
	Email         string `json:"email"`
	IsPremium     bool   `json:"is_premium"`
	QuestionsUsed int    `json:"questions_used"`
	LastUseDate   string `json:"last_use_date"`
}

type Solve struct {
	ID          int64     `json:"id" db:"id"`
	Email       string    `json:"email" db:"email"`
	SchoolGrade string    `json:"school_grade" db:"school_grade"`
	Model       string    `json:"model" db:"model"`
	AnswerChars int       `json:"answer_chars" db:"answer_chars"`
	Duration    float64   `json:"duration" db:"duration"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// QuotaStatus is what handlers render for "N of MAX remaining".
type QuotaStatus struct {
	Used      int    `json:"used"`
	Remaining int    `json:"remaining"`
	Limit     int    `json:"limit"`
	Premium   bool   `json:"premium"`
	ResetsAt  string `json:"resets_at,omitempty"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Database  string `json:"database"`
	Redis     string `json:"redis"`
}
