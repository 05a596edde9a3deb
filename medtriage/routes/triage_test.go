package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"medtriage/medtriage/agents/core"
	"medtriage/medtriage/config"
	"medtriage/medtriage/controllers"
	"medtriage/medtriage/sources/psql"
	"medtriage/medtriage/sources/psql/dao"
	"medtriage/medtriage/stream"
	"medtriage/medtriage/types"
	"medtriage/medtriage/utils/logging"
)

type stubWorkflow struct{}

func (stubWorkflow) Run(ctx context.Context, in core.RunInput, obs core.Observer) types.TriageResult {
	res := types.TriageResult{TriageLevel: types.LevelRoutine, Narrative: "ổn"}
	res.Normalize()
	return res
}

type streamTestEnv struct {
	srv     *httptest.Server
	b       *stream.Broadcaster
	convDAO *dao.ConversationDAO
	cfg     config.Config
}

func newStreamTestEnv(t *testing.T) *streamTestEnv {
	t.Helper()
	logging.InitLogger()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := psql.Migrate(context.Background(), db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	convDAO := dao.NewConversationDAO(db)
	cfg := config.Config{JWTSecret: "test-secret", ContextWindowMessages: 10}
	ctrl := controllers.NewTriageController(convDAO, stubWorkflow{}, nil, nil, nil, cfg)
	b := stream.NewBroadcaster(stream.Config{})

	srv := httptest.NewServer(TriageRoutes(ctrl, b, cfg))
	t.Cleanup(srv.Close)
	return &streamTestEnv{srv: srv, b: b, convDAO: convDAO, cfg: cfg}
}

func (e *streamTestEnv) mintToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": userID})
	signed, err := token.SignedString([]byte(e.cfg.JWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func (e *streamTestEnv) createSession(t *testing.T, userID string) string {
	t.Helper()
	session, err := e.convDAO.GetOrCreateSession(context.Background(), "", userID)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	return session.ID
}

func (e *streamTestEnv) dial(t *testing.T, ctx context.Context, sessionID, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/stream/" + sessionID
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	frame := fmt.Sprintf(`{"token":%q}`, token)
	if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
		t.Fatalf("handshake write failed: %v", err)
	}
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// readUntilClose drains frames until the peer closes and returns the close
// status.
func readUntilClose(ctx context.Context, conn *websocket.Conn) websocket.StatusCode {
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return websocket.CloseStatus(err)
		}
	}
}

func TestStreamReplacementKeepsNewConnection(t *testing.T) {
	env := newStreamTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	token := env.mintToken(t, "user-1")
	sessionID := env.createSession(t, "user-1")

	first := env.dial(t, ctx, sessionID, token)
	defer first.Close(websocket.StatusNormalClosure, "")
	waitFor(t, "first connection to attach", func() bool { return env.b.ConnectionCount() == 1 })

	second := env.dial(t, ctx, sessionID, token)
	defer second.Close(websocket.StatusNormalClosure, "")

	// The replacement closes the first socket; let its handler finish
	// cleaning up, then make sure the replacement is still registered.
	readUntilClose(ctx, first)
	settle := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(settle) {
		if env.b.ConnectionCount() == 0 {
			t.Fatal("replacement connection was torn down by the stale handler")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := env.b.Send(sessionID, types.StepEvent{Type: types.StepThought, Thought: "x"}); err != nil {
		t.Fatalf("send after replacement failed: %v", err)
	}
	_, data, err := second.Read(ctx)
	if err != nil {
		t.Fatalf("replacement connection should receive events: %v", err)
	}
	var ev types.StepEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("frame is not valid JSON: %v", err)
	}
	if ev.SessionID != sessionID {
		t.Errorf("expected session id %q, got %q", sessionID, ev.SessionID)
	}
}

func TestStreamRejectsForeignSession(t *testing.T) {
	env := newStreamTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sessionID := env.createSession(t, "alice")
	conn := env.dial(t, ctx, sessionID, env.mintToken(t, "mallory"))
	defer conn.Close(websocket.StatusNormalClosure, "")

	if status := readUntilClose(ctx, conn); status != websocket.StatusPolicyViolation {
		t.Errorf("expected policy violation close, got %v", status)
	}
	if env.b.ConnectionCount() != 0 {
		t.Errorf("foreign user must not attach, got %d connections", env.b.ConnectionCount())
	}
}

func TestStreamRejectsUnknownSession(t *testing.T) {
	env := newStreamTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := env.dial(t, ctx, "no-such-session", env.mintToken(t, "user-1"))
	defer conn.Close(websocket.StatusNormalClosure, "")

	if status := readUntilClose(ctx, conn); status != websocket.StatusPolicyViolation {
		t.Errorf("expected policy violation close, got %v", status)
	}
}

func TestStreamRejectsInvalidToken(t *testing.T) {
	env := newStreamTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sessionID := env.createSession(t, "user-1")
	conn := env.dial(t, ctx, sessionID, "not-a-token")
	defer conn.Close(websocket.StatusNormalClosure, "")

	if status := readUntilClose(ctx, conn); status != websocket.StatusPolicyViolation {
		t.Errorf("expected policy violation close, got %v", status)
	}
	if env.b.ConnectionCount() != 0 {
		t.Errorf("no connection should attach, got %d", env.b.ConnectionCount())
	}
}
