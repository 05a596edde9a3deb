// medtriage/sources/psql/dao/dao.conversation.go
package dao

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"medtriage/medtriage/sources/psql/models"
)

var (
	// ErrSessionNotFound is returned when a caller names a session id that
	// does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotSessionOwner is returned when a caller names a session that
	// belongs to a different user.
	ErrNotSessionOwner = errors.New("session belongs to a different user")
)

const appendStripes = 32

type ConversationDAO struct {
	DB *gorm.DB

	// Per-session append ordering: messages written for the same session are
	// serialized so created_at order matches call order.
	locks [appendStripes]sync.Mutex
}

func NewConversationDAO(db *gorm.DB) *ConversationDAO {
	return &ConversationDAO{DB: db}
}

func (dao *ConversationDAO) stripe(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return &dao.locks[h.Sum32()%appendStripes]
}

// GetOrCreateSession resolves the session for a request. An empty id creates
// a fresh session owned by the user; a known id is returned only to its
// owner.
func (dao *ConversationDAO) GetOrCreateSession(ctx context.Context, sessionID, userID string) (*models.Session, error) {
	if sessionID == "" {
		session := models.Session{UserID: userID}
		if err := dao.DB.WithContext(ctx).Create(&session).Error; err != nil {
			return nil, err
		}
		return &session, nil
	}

	var session models.Session
	err := dao.DB.WithContext(ctx).Where("id = ?", sessionID).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if session.UserID != userID {
		return nil, ErrNotSessionOwner
	}
	return &session, nil
}

// AppendUserMessage records the user's turn, including the image reference
// when one was attached.
func (dao *ConversationDAO) AppendUserMessage(ctx context.Context, sessionID, content, imageURL string) (*models.ConversationMessage, error) {
	msg := models.ConversationMessage{
		SessionID: sessionID,
		Role:      "user",
		Content:   content,
	}
	if imageURL != "" {
		msg.ImageURL = &imageURL
	}
	return dao.append(ctx, &msg)
}

// AppendAssistantMessage records the assistant's turn alongside the full
// structured result it was rendered from.
func (dao *ConversationDAO) AppendAssistantMessage(ctx context.Context, sessionID, content, resultJSON string) (*models.ConversationMessage, error) {
	msg := models.ConversationMessage{
		SessionID:  sessionID,
		Role:       "assistant",
		Content:    content,
		ResultJSON: resultJSON,
	}
	return dao.append(ctx, &msg)
}

func (dao *ConversationDAO) append(ctx context.Context, msg *models.ConversationMessage) (*models.ConversationMessage, error) {
	mu := dao.stripe(msg.SessionID)
	mu.Lock()
	defer mu.Unlock()

	if err := dao.DB.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, err
	}
	dao.DB.WithContext(ctx).Model(&models.Session{}).
		Where("id = ?", msg.SessionID).
		Update("updated_at", time.Now())
	return msg, nil
}

// GetHistory returns up to limit messages for a session, oldest first.
// limit <= 0 means no limit.
func (dao *ConversationDAO) GetHistory(ctx context.Context, sessionID string, limit int) ([]models.ConversationMessage, error) {
	q := dao.DB.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var history []models.ConversationMessage
	if err := q.Find(&history).Error; err != nil {
		return nil, err
	}
	return history, nil
}

// GetContextString renders the last windowSize messages as a plain-text
// transcript for prompting, oldest first.
func (dao *ConversationDAO) GetContextString(ctx context.Context, sessionID string, windowSize int) (string, error) {
	var recent []models.ConversationMessage
	err := dao.DB.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC, id DESC").
		Limit(windowSize).
		Find(&recent).Error
	if err != nil {
		return "", err
	}

	var lines []string
	for i := len(recent) - 1; i >= 0; i-- {
		role := "User"
		if recent[i].Role == "assistant" {
			role = "Assistant"
		}
		lines = append(lines, role+": "+recent[i].Content)
	}
	return strings.Join(lines, "\n"), nil
}

// ListRecentSessions returns up to limit sessions for a user, most recently
// active first.
func (dao *ConversationDAO) ListRecentSessions(ctx context.Context, userID string, limit int) ([]models.Session, error) {
	var sessions []models.Session
	err := dao.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// PurgeOlderThan deletes sessions idle past the cutoff together with their
// messages, and reports how many sessions were removed.
func (dao *ConversationDAO) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var stale []models.Session
	err := dao.DB.WithContext(ctx).
		Where("updated_at < ?", cutoff).
		Find(&stale).Error
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	ids := make([]string, len(stale))
	for i, s := range stale {
		ids[i] = s.ID
	}
	err = dao.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id IN ?", ids).Delete(&models.ConversationMessage{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&models.Session{}).Error
	})
	if err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}
