package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ConversationMessage struct {
	ID         string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	SessionID  string    `json:"session_id" gorm:"type:varchar(36);not null;index"`
	Session    Session   `json:"-" gorm:"foreignKey:SessionID;references:ID;constraint:OnDelete:CASCADE"`
	Role       string    `json:"role" gorm:"type:varchar(50);not null"`
	Content    string    `json:"content" gorm:"type:text;not null"`
	ImageURL   *string   `json:"image_url,omitempty" gorm:"type:text"`
	ResultJSON string    `json:"result_json,omitempty" gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (ConversationMessage) TableName() string {
	return "conversation_messages"
}

func (m *ConversationMessage) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}
