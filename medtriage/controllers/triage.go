// medtriage/controllers/triage.go
package controllers

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"medtriage/medtriage/agents/core"
	"medtriage/medtriage/config"
	"medtriage/medtriage/services/facilities"
	"medtriage/medtriage/sources/psql/dao"
	"medtriage/medtriage/sources/storage"
	"medtriage/medtriage/types"
	"medtriage/medtriage/utils/jsonutils"
	"medtriage/medtriage/utils/logging"
)

// ErrInvalidRequest marks validation failures so routes can map them to 400.
var ErrInvalidRequest = errors.New("invalid request")

type workflowRunner interface {
	Run(ctx context.Context, in core.RunInput, obs core.Observer) types.TriageResult
}

type TriageController struct {
	convDAO  *dao.ConversationDAO
	workflow workflowRunner
	sink     core.EventSink
	images   *storage.ImageStore
	locator  facilities.Locator
	cfg      config.Config
}

func NewTriageController(
	convDAO *dao.ConversationDAO,
	workflow workflowRunner,
	sink core.EventSink,
	images *storage.ImageStore,
	locator facilities.Locator,
	cfg config.Config,
) *TriageController {
	return &TriageController{
		convDAO:  convDAO,
		workflow: workflow,
		sink:     sink,
		images:   images,
		locator:  locator,
		cfg:      cfg,
	}
}

// Triage runs one request end to end: validate, resolve the session, run the
// workflow, enrich with a nearby facility when the verdict calls for one, and
// record both turns. Persistence failures never fail the request.
func (c *TriageController) Triage(ctx context.Context, req types.TriageRequest) (*types.TriageResponse, error) {
	req.Text = strings.TrimSpace(req.Text)
	if err := validate(req); err != nil {
		return nil, err
	}

	sessionID := c.resolveSession(ctx, &req)

	if _, err := c.convDAO.AppendUserMessage(ctx, sessionID, req.Text, req.ImageURL); err != nil {
		logging.ErrorLogger.Error("failed to record user message", zap.Error(err),
			zap.String("session_id", sessionID))
	}
	if req.ImageURL != "" && c.images != nil {
		if _, err := c.images.ArchiveFromURL(ctx, sessionID, req.ImageURL); err != nil {
			logging.ErrorLogger.Error("image archive failed", zap.Error(err),
				zap.String("session_id", sessionID))
		}
	}

	window, err := c.convDAO.GetContextString(ctx, sessionID, c.cfg.ContextWindowMessages)
	if err != nil {
		logging.ErrorLogger.Error("failed to load conversation context", zap.Error(err),
			zap.String("session_id", sessionID))
		window = ""
	}

	var obs core.Observer = core.NopObserver{}
	if c.sink != nil {
		obs = core.NewStepEmitter(sessionID, c.sink)
	}
	result := c.workflow.Run(ctx, core.RunInput{
		Text:          req.Text,
		ImageURL:      req.ImageURL,
		UserID:        req.UserID,
		SessionID:     sessionID,
		ContextWindow: window,
	}, obs)

	resp := &types.TriageResponse{TriageResult: result, SessionID: sessionID}
	c.enrichNearestClinic(ctx, req, resp)

	if _, err := c.convDAO.AppendAssistantMessage(ctx, sessionID, result.Narrative, jsonutils.ToJSON(result)); err != nil {
		logging.ErrorLogger.Error("failed to record assistant message", zap.Error(err),
			zap.String("session_id", sessionID))
	}

	return resp, nil
}

func validate(req types.TriageRequest) error {
	if req.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}
	if req.Text == "" && req.ImageURL == "" {
		return fmt.Errorf("%w: text or image_url is required", ErrInvalidRequest)
	}
	if req.ImageURL != "" {
		u, err := url.ParseRequestURI(req.ImageURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("%w: image_url is not a valid http(s) url", ErrInvalidRequest)
		}
	}
	return nil
}

// resolveSession returns the session id for the request. Ownership failures
// and DAO outages degrade to a fresh ephemeral id so the workflow still runs.
func (c *TriageController) resolveSession(ctx context.Context, req *types.TriageRequest) string {
	session, err := c.convDAO.GetOrCreateSession(ctx, req.SessionID, req.UserID)
	if err != nil {
		logging.ErrorLogger.Error("session resolution failed", zap.Error(err),
			zap.String("session_id", req.SessionID), zap.String("user_id", req.UserID))
		return uuid.New().String()
	}
	return session.ID
}

func (c *TriageController) enrichNearestClinic(ctx context.Context, req types.TriageRequest, resp *types.TriageResponse) {
	if c.locator == nil || req.Location == nil {
		return
	}
	if resp.TriageLevel != types.LevelEmergency && resp.TriageLevel != types.LevelUrgent {
		return
	}
	found, err := c.locator.FindNearby(ctx, *req.Location, resp.TriageLevel)
	if err != nil {
		logging.ErrorLogger.Error("facility lookup failed", zap.Error(err))
		return
	}
	if len(found) > 0 {
		resp.NearestClinic = &found[0]
	}
}

// ListSessions returns the user's recent sessions as history-panel summaries.
func (c *TriageController) ListSessions(ctx context.Context, userID string) ([]types.SessionSummary, error) {
	sessions, err := c.convDAO.ListRecentSessions(ctx, userID, 50)
	if err != nil {
		return nil, err
	}
	summaries := make([]types.SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summary := types.SessionSummary{
			SessionID:    s.ID,
			LastActivity: s.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
		history, err := c.convDAO.GetHistory(ctx, s.ID, 0)
		if err == nil && len(history) > 0 {
			last := history[len(history)-1]
			summary.LastMessage = last.Content
			summary.LastMessageRole = last.Role
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// AuthorizeStream checks that the session exists and belongs to the user
// before a stream connection may attach to it.
func (c *TriageController) AuthorizeStream(ctx context.Context, userID, sessionID string) error {
	_, err := c.convDAO.GetOrCreateSession(ctx, sessionID, userID)
	return err
}

// GetMessagesForSession returns the transcript oldest first, enforcing
// ownership. limit <= 0 returns everything.
func (c *TriageController) GetMessagesForSession(ctx context.Context, userID, sessionID string, limit int) ([]map[string]string, error) {
	if _, err := c.convDAO.GetOrCreateSession(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	history, err := c.convDAO.GetHistory(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	msgs := make([]map[string]string, 0, len(history))
	for _, m := range history {
		entry := map[string]string{
			"role":      m.Role,
			"content":   m.Content,
			"timestamp": m.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
		if m.ImageURL != nil {
			entry["image_url"] = *m.ImageURL
		}
		if m.ResultJSON != "" {
			entry["result"] = m.ResultJSON
		}
		msgs = append(msgs, entry)
	}
	return msgs, nil
}
