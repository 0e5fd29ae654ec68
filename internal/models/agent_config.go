package models

import (
	"encoding/json"
	"time"
)

// AgentConfig is a stored agent definition: prompt, greeting, and function
// declarations (the dispatch package's declaration schema, stored as JSON).
type AgentConfig struct {
	ID        uint       `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time  `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time  `json:"updatedAt" gorm:"autoUpdateTime"`
	DeletedAt *time.Time `json:"-" gorm:"index"`

	Name         string `json:"name" gorm:"size:128;uniqueIndex;not null"`
	OrgID        string `json:"orgId" gorm:"size:128;index"`
	SystemPrompt string `json:"systemPrompt" gorm:"type:text"`
	Greeting     string `json:"greeting" gorm:"size:500"`
	// Functions holds the JSON-encoded function declarations.
	Functions json.RawMessage `json:"functions,omitempty" gorm:"type:text"`
	// Credentials holds the JSON-encoded credentials rest functions use.
	Credentials json.RawMessage `json:"credentials,omitempty" gorm:"type:text"`
}

func (AgentConfig) TableName() string {
	return "agent_configs"
}
