// Package projects persists user projects in SQLite through gorm.
package projects

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	MaxNameLength = 200
	DefaultLimit  = 100
	MaxLimit      = 100
)

var (
	ErrNotFound       = errors.New("project not found")
	ErrInvalidName    = fmt.Errorf("name must be between 1 and %d characters", MaxNameLength)
	ErrInvalidPaging  = errors.New("skip and limit must not be negative")
	ErrNotInitialized = errors.New("database not initialized")
)

// Open connects to the SQLite database at path and migrates the schema.
// ":memory:" opens a private in-memory database.
func Open(path string, logger gormlogger.Interface) (*gorm.DB, error) {
	dsn := path
	if path != ":memory:" {
		// WAL mode for concurrent readers
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if path == ":memory:" {
		// Each connection would otherwise get its own empty database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get database handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&Project{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Repository provides CRUD access to projects
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// List returns projects newest first. limit 0 means DefaultLimit; larger
// values are capped at MaxLimit.
func (r *Repository) List(ctx context.Context, skip, limit int) ([]Project, error) {
	if skip < 0 || limit < 0 {
		return nil, ErrInvalidPaging
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	projects := make([]Project, 0)
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id").
		Offset(skip).
		Limit(limit).
		Find(&projects).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	return projects, nil
}

// Get returns one project
func (r *Repository) Get(ctx context.Context, id string) (*Project, error) {
	var project Project
	err := r.db.WithContext(ctx).First(&project, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &project, nil
}

// Create validates and inserts a project
func (r *Repository) Create(ctx context.Context, in ProjectCreate) (*Project, error) {
	name, err := validateName(in.Name)
	if err != nil {
		return nil, err
	}

	project := &Project{
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Prompt:      strings.TrimSpace(in.Prompt),
	}

	if err := r.db.WithContext(ctx).Create(project).Error; err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	return project, nil
}

// Update applies the non-nil fields of in
func (r *Repository) Update(ctx context.Context, id string, in ProjectUpdate) (*Project, error) {
	project, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		name, err := validateName(*in.Name)
		if err != nil {
			return nil, err
		}
		project.Name = name
	}
	if in.Description != nil {
		project.Description = strings.TrimSpace(*in.Description)
	}
	if in.Prompt != nil {
		project.Prompt = strings.TrimSpace(*in.Prompt)
	}

	if err := r.db.WithContext(ctx).Save(project).Error; err != nil {
		return nil, fmt.Errorf("failed to update project: %w", err)
	}

	return project, nil
}

// Delete removes a project
func (r *Repository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&Project{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete project: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetLastSession links the most recent generation session to a project
func (r *Repository) SetLastSession(ctx context.Context, id, sessionID string) error {
	result := r.db.WithContext(ctx).Model(&Project{}).Where("id = ?", id).Update("last_session_id", sessionID)
	if result.Error != nil {
		return fmt.Errorf("failed to link session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	if r.db == nil {
		return ErrNotInitialized
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool
func (r *Repository) Close() error {
	if r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n == 0 || n > MaxNameLength {
		return "", ErrInvalidName
	}
	return name, nil
}
