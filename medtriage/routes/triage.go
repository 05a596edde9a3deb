package routes

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"medtriage/medtriage/config"
	"medtriage/medtriage/controllers"
	"medtriage/medtriage/middlewares"
	"medtriage/medtriage/sources/psql/dao"
	"medtriage/medtriage/stream"
	"medtriage/medtriage/types"
)

func TriageRoutes(ctrl *controllers.TriageController, broadcaster *stream.Broadcaster, cfg config.Config) chi.Router {
	r := chi.NewRouter()

	r.Group(func(gr chi.Router) {
		gr.Use(middlewares.AuthMiddleware(cfg))

		// POST /triage/ : run one triage request
		gr.Post("/", func(w http.ResponseWriter, r *http.Request) {
			var req types.TriageRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			req.UserID = r.Context().Value(middlewares.UserIDKey).(string)
			resp, err := ctrl.Triage(r.Context(), req)
			if err != nil {
				if errors.Is(err, controllers.ErrInvalidRequest) {
					http.Error(w, err.Error(), http.StatusBadRequest)
				} else {
					http.Error(w, err.Error(), http.StatusInternalServerError)
				}
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(resp)
		})

		// GET /triage/sessions : list the user's sessions (threads)
		gr.Get("/sessions", func(w http.ResponseWriter, r *http.Request) {
			userID := r.Context().Value(middlewares.UserIDKey).(string)
			sessions, err := ctrl.ListSessions(r.Context(), userID)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(sessions)
		})

		// GET /triage/session/{session_id}/messages : full transcript
		gr.Get("/session/{session_id}/messages", func(w http.ResponseWriter, r *http.Request) {
			userID := r.Context().Value(middlewares.UserIDKey).(string)
			sessionID := chi.URLParam(r, "session_id")
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			msgs, err := ctrl.GetMessagesForSession(r.Context(), userID, sessionID, limit)
			if err != nil {
				if errors.Is(err, dao.ErrSessionNotFound) || errors.Is(err, dao.ErrNotSessionOwner) {
					http.Error(w, "session not found", http.StatusNotFound)
				} else {
					http.Error(w, err.Error(), http.StatusInternalServerError)
				}
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(msgs)
		})
	})

	// GET /triage/stream/{session_id} : live step events over websocket.
	// The first frame must carry a valid token; afterwards the socket only
	// receives.
	r.HandleFunc("/stream/{session_id}", func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "session_id")
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusInternalError, "internal error")

		ctx := r.Context()
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			conn.Close(websocket.StatusUnsupportedData, "unsupported data")
			return
		}
		var input struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(data, &input); err != nil {
			conn.Write(ctx, websocket.MessageText, []byte(`{"error":"invalid json"}`))
			return
		}
		userID, ok := middlewares.VerifyToken(cfg, input.Token)
		if !ok {
			conn.Write(ctx, websocket.MessageText, []byte(`{"error":"invalid token"}`))
			conn.Close(websocket.StatusPolicyViolation, "invalid token")
			return
		}
		if err := ctrl.AuthorizeStream(ctx, userID, sessionID); err != nil {
			if errors.Is(err, dao.ErrSessionNotFound) || errors.Is(err, dao.ErrNotSessionOwner) {
				conn.Write(ctx, websocket.MessageText, []byte(`{"error":"unauthorized"}`))
				conn.Close(websocket.StatusPolicyViolation, "unauthorized")
			}
			return
		}

		// Cleanup must only remove this handler's own transport. When a newer
		// connection replaces it, the replacement stays registered.
		transport := stream.NewWSTransport(conn)
		broadcaster.Attach(sessionID, transport)
		defer broadcaster.DetachIf(sessionID, transport)

		// Drain the read side until the client goes away; events flow out
		// through the broadcaster only.
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	})

	return r
}
