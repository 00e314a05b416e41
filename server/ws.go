package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/becomeliminal/friday/core"
	"github.com/becomeliminal/friday/logging"
	"github.com/becomeliminal/friday/memory"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/m-mizutani/goerr/v2"
)

// Request is a client frame. Which fields matter depends on Op.
type Request struct {
	Op      string `json:"op"`
	Text    string `json:"text,omitempty"`
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
	Query   string `json:"query,omitempty"`
	ID      string `json:"id,omitempty"`
	Note    string `json:"note,omitempty"`
	TopK    int    `json:"top_k,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// Response is a server frame. Chat replies arrive as "chunk" frames
// followed by one "done" frame.
type Response struct {
	Op    string `json:"op"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`

	// Code is the error kind: not_found, unavailable, storage, validation
	// or internal.
	Code string `json:"code,omitempty"`

	Text     string                `json:"text,omitempty"`
	Command  bool                  `json:"command,omitempty"`
	Stored   *bool                 `json:"stored,omitempty"`
	Count    *int                  `json:"count,omitempty"`
	Deleted  *int                  `json:"deleted,omitempty"`
	Memories []memory.Recollection `json:"memories,omitempty"`
	Records  []RecordView          `json:"records,omitempty"`
	Goals    []string              `json:"goals,omitempty"`
	Summary  *RecordView           `json:"summary,omitempty"`
}

// RecordView is the wire form of a memory record.
type RecordView struct {
	ID        string    `json:"id"`
	Role      core.Role `json:"role"`
	Content   string    `json:"content"`
	Kind      string    `json:"kind,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Pinned    bool      `json:"pinned"`
	PinNote   string    `json:"pin_note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func newRecordView(r *memory.Record) RecordView {
	return RecordView{
		ID:        r.ID,
		Role:      r.Role,
		Content:   r.Content,
		Kind:      string(r.Kind),
		Tags:      r.Tags,
		Pinned:    r.Pinned,
		PinNote:   r.PinNote,
		CreatedAt: r.CreatedAt,
	}
}

func newRecordViews(records []*memory.Record) []RecordView {
	views := make([]RecordView, len(records))
	for i, r := range records {
		views[i] = newRecordView(r)
	}
	return views
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	logger := s.logger.With("conn", uuid.NewString())
	ctx := logging.With(r.Context(), logger)
	logger.Debug("websocket connected", "remote", r.RemoteAddr)

	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket read ended", "error", err)
			}
			return
		}
		if err := s.dispatch(ctx, conn, &req); err != nil {
			logger.Debug("websocket write failed", "error", err)
			return
		}
	}
}

// dispatch answers one request. The returned error is a write failure; op
// failures are reported to the client in the frame.
func (s *Server) dispatch(ctx context.Context, conn *websocket.Conn, req *Request) error {
	if req.Op == "chat" {
		return s.chat(ctx, conn, req)
	}

	resp, err := s.handle(ctx, req)
	if err != nil {
		resp = errorResponse(req.Op, err)
		logging.From(ctx).Warn("request failed", "op", req.Op, "error", err)
	}
	return conn.WriteJSON(resp)
}

func (s *Server) chat(ctx context.Context, conn *websocket.Conn, req *Request) error {
	var writeErr error
	reply, err := s.engine.Chat(ctx, req.Text, func(chunk string) {
		if writeErr == nil {
			writeErr = conn.WriteJSON(Response{Op: "chunk", OK: true, Text: chunk})
		}
	})
	if writeErr != nil {
		return writeErr
	}
	if err != nil {
		logging.From(ctx).Warn("chat failed", "error", err)
		return conn.WriteJSON(errorResponse("done", err))
	}

	done := Response{Op: "done", OK: true, Text: reply.Text, Command: reply.Command}
	if reply.Summary != nil {
		v := newRecordView(reply.Summary)
		done.Summary = &v
	}
	return conn.WriteJSON(done)
}

func (s *Server) handle(ctx context.Context, req *Request) (Response, error) {
	m := s.memory
	resp := Response{Op: req.Op, OK: true}

	switch req.Op {
	case "save":
		role, err := core.ParseRole(req.Role)
		if err != nil {
			return resp, goerr.Wrap(memory.ErrValidation, err.Error())
		}
		stored, err := m.Save(ctx, role, req.Content)
		if err != nil {
			return resp, err
		}
		resp.Stored = &stored

	case "retrieve":
		memories, err := m.Retrieve(ctx, req.Query, req.TopK)
		if err != nil {
			return resp, err
		}
		resp.Memories = memories

	case "stats":
		n, err := m.Stats(ctx)
		if err != nil {
			return resp, err
		}
		resp.Count = &n

	case "list":
		var role core.Role
		if req.Role != "" {
			r, err := core.ParseRole(req.Role)
			if err != nil {
				return resp, goerr.Wrap(memory.ErrValidation, err.Error())
			}
			role = r
		}
		records, err := m.ListRecent(ctx, req.Limit, role)
		if err != nil {
			return resp, err
		}
		resp.Records = newRecordViews(records)

	case "pin":
		if err := m.Pin(ctx, req.ID, req.Note); err != nil {
			return resp, err
		}

	case "unpin":
		if err := m.Unpin(ctx, req.ID); err != nil {
			return resp, err
		}

	case "delete":
		if err := m.Delete(ctx, req.ID); err != nil {
			return resp, err
		}

	case "pinned":
		records, err := m.ListPinned(ctx)
		if err != nil {
			return resp, err
		}
		resp.Records = newRecordViews(records)

	case "forget":
		n, err := m.Forget(ctx, req.Query, req.TopK)
		if err != nil {
			return resp, err
		}
		resp.Deleted = &n

	case "goals":
		resp.Goals = m.Goals()

	case "push_goal":
		// Blank goals are dropped without error; the stack comes back as is.
		m.PushGoal(req.Text)
		resp.Goals = m.Goals()

	case "compact":
		rec, err := m.Compact(ctx, req.Limit)
		if err != nil {
			return resp, err
		}
		if rec != nil {
			v := newRecordView(rec)
			resp.Summary = &v
		}

	case "clear":
		if err := m.ClearAll(ctx); err != nil {
			return resp, err
		}

	default:
		return resp, goerr.Wrap(memory.ErrValidation, "unknown op", goerr.V("op", req.Op))
	}

	return resp, nil
}

func errorResponse(op string, err error) Response {
	return Response{Op: op, OK: false, Error: err.Error(), Code: errorCode(err)}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, memory.ErrNotFound):
		return "not_found"
	case errors.Is(err, memory.ErrServiceUnavailable):
		return "unavailable"
	case errors.Is(err, memory.ErrValidation):
		return "validation"
	case errors.Is(err, memory.ErrStorage):
		return "storage"
	}
	return "internal"
}
