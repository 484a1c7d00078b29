package projects

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Project groups a website idea with its latest generation session
type Project struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	Name          string    `gorm:"size:200;not null" json:"name"`
	Description   string    `gorm:"type:text" json:"description"`
	Prompt        string    `gorm:"type:text" json:"prompt"`
	LastSessionID string    `gorm:"size:36" json:"last_session_id,omitempty"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// BeforeCreate assigns a UUID when none is set
func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

// ProjectCreate is the payload for creating a project
type ProjectCreate struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Prompt      string `json:"prompt"`
}

// ProjectUpdate holds optional fields; nil leaves the value unchanged
type ProjectUpdate struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Prompt      *string `json:"prompt,omitempty"`
}
