// Package httpapi exposes the match operations over HTTP. Routing is a
// hand-rolled path switch; the surface is six endpoints plus a board
// preview and a health probe.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/castlemate/castlemate/internal/boardimg"
	"github.com/castlemate/castlemate/internal/history"
	"github.com/castlemate/castlemate/internal/match"
	"github.com/castlemate/castlemate/internal/obslog"
)

type Server struct {
	manager *match.Manager
	history history.Recorder

	srv *fasthttp.Server
}

func NewServer(manager *match.Manager, recorder history.Recorder) *Server {
	s := &Server{manager: manager, history: recorder}
	s.srv = &fasthttp.Server{
		Handler:            s.handle,
		Name:               "castlemate",
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		MaxRequestBodySize: 1 << 16,
	}
	return s
}

func (s *Server) ListenAndServe(addr string) error {
	obslog.L().Info("http_listen", zap.String("addr", addr))
	return s.srv.ListenAndServe(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.ShutdownWithContext(ctx)
}

type createRequest struct {
	EntryFeeUsd float64 `json:"entryFeeUsd"`
	Wallet      string  `json:"wallet"`
}

type joinRequest struct {
	Wallet string `json:"wallet"`
}

type paymentRequest struct {
	TxID   string `json:"txId"`
	Wallet string `json:"wallet"`
}

type moveRequest struct {
	PlayerID int          `json:"playerId"`
	From     match.Square `json:"from"`
	To       match.Square `json:"to"`
}

func (s *Server) handle(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	method := string(ctx.Method())

	defer func() {
		if rec := recover(); rec != nil {
			obslog.L().Error("http_panic", zap.Any("panic", rec), zap.String("path", path))
			writeError(ctx, fasthttp.StatusInternalServerError, fmt.Errorf("internal error"))
		}
	}()

	switch {
	case path == "/health" && method == fasthttp.MethodGet:
		writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
		return
	case path == "/v1/rooms" && method == fasthttp.MethodPost:
		s.handleCreate(ctx)
		return
	}

	if strings.HasPrefix(path, "/v1/profiles/") && method == fasthttp.MethodGet {
		s.handleProfile(ctx, strings.TrimPrefix(path, "/v1/profiles/"))
		return
	}

	// /v1/rooms/{code}[/...]
	if !strings.HasPrefix(path, "/v1/rooms/") {
		writeError(ctx, fasthttp.StatusNotFound, errors.New("not found"))
		return
	}
	rest := strings.TrimPrefix(path, "/v1/rooms/")
	code, sub, _ := strings.Cut(rest, "/")
	if code == "" {
		writeError(ctx, fasthttp.StatusNotFound, errors.New("not found"))
		return
	}

	switch {
	case sub == "" && method == fasthttp.MethodGet:
		s.handleState(ctx, code)
	case sub == "join" && method == fasthttp.MethodPost:
		s.handleJoin(ctx, code)
	case sub == "payments" && method == fasthttp.MethodPost:
		s.handleVerifyPayment(ctx, code)
	case sub == "payments" && method == fasthttp.MethodGet:
		s.handlePayments(ctx, code)
	case sub == "moves" && method == fasthttp.MethodPost:
		s.handleMove(ctx, code)
	case sub == "board.png" && method == fasthttp.MethodGet:
		s.handleBoardPNG(ctx, code)
	default:
		writeError(ctx, fasthttp.StatusNotFound, errors.New("not found"))
	}
}

func (s *Server) handleCreate(ctx *fasthttp.RequestCtx) {
	var req createRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, errors.New("malformed request body"))
		return
	}
	view, err := s.manager.Create(ctx, req.EntryFeeUsd, req.Wallet)
	if err != nil {
		writeMatchError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusCreated, view)
}

func (s *Server) handleState(ctx *fasthttp.RequestCtx, code string) {
	view, err := s.manager.State(ctx, code)
	if err != nil {
		writeMatchError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, view)
}

func (s *Server) handleJoin(ctx *fasthttp.RequestCtx, code string) {
	var req joinRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, errors.New("malformed request body"))
		return
	}
	view, err := s.manager.Join(ctx, code, req.Wallet)
	if err != nil {
		writeMatchError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, view)
}

func (s *Server) handleVerifyPayment(ctx *fasthttp.RequestCtx, code string) {
	var req paymentRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, errors.New("malformed request body"))
		return
	}
	view, msg, err := s.manager.VerifyPayment(ctx, code, req.TxID, req.Wallet)
	if err != nil {
		writeMatchError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"room": view, "message": msg})
}

func (s *Server) handlePayments(ctx *fasthttp.RequestCtx, code string) {
	pv, err := s.manager.Payments(code)
	if err != nil {
		writeMatchError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, pv)
}

func (s *Server) handleMove(ctx *fasthttp.RequestCtx, code string) {
	var req moveRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, errors.New("malformed request body"))
		return
	}
	res, err := s.manager.ApplyMove(ctx, code, req.PlayerID, req.From, req.To)
	if err != nil {
		writeMatchError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, res)
}

func (s *Server) handleBoardPNG(ctx *fasthttp.RequestCtx, code string) {
	view, err := s.manager.State(ctx, code)
	if err != nil {
		writeMatchError(ctx, err)
		return
	}
	opts := boardimg.Options{
		Header: "ROOM " + view.Code,
		Footer: fmt.Sprintf("white %s  black %s", clockLabel(view.WhiteTimeMs), clockLabel(view.BlackTimeMs)),
	}
	if view.LastMove != nil {
		opts.Highlight = &boardimg.Highlight{
			FromRow: view.LastMove.From.Row, FromCol: view.LastMove.From.Col,
			ToRow: view.LastMove.To.Row, ToCol: view.LastMove.To.Col,
		}
	}
	data, err := boardimg.RenderPNG(ctx, view.Board, opts)
	if err != nil {
		obslog.L().Error("board_render_error", zap.String("room", view.Code), zap.Error(err))
		writeError(ctx, fasthttp.StatusInternalServerError, errors.New("render failed"))
		return
	}
	ctx.SetContentType("image/png")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(data)
}

func (s *Server) handleProfile(ctx *fasthttp.RequestCtx, wallet string) {
	if s.history == nil {
		writeError(ctx, fasthttp.StatusNotFound, errors.New("profiles not enabled"))
		return
	}
	p, err := s.history.Profile(ctx, wallet)
	if err != nil {
		obslog.L().Error("profile_query_error", zap.Error(err))
		writeError(ctx, fasthttp.StatusInternalServerError, errors.New("profile lookup failed"))
		return
	}
	if p == nil {
		writeError(ctx, fasthttp.StatusNotFound, errors.New("profile not found"))
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, p)
}

func clockLabel(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	total := ms / 1000
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// writeMatchError maps domain errors onto HTTP statuses: unknown
// entities 404, upstream trouble 502, everything else client error.
func writeMatchError(ctx *fasthttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, match.ErrRoomNotFound), errors.Is(err, match.ErrTxNotFound):
		writeError(ctx, fasthttp.StatusNotFound, err)
	case errors.Is(err, match.ErrLedgerUnavail), errors.Is(err, match.ErrReplayGuardDown):
		writeError(ctx, fasthttp.StatusBadGateway, err)
	default:
		writeError(ctx, fasthttp.StatusBadRequest, err)
	}
}

func writeError(ctx *fasthttp.RequestCtx, status int, err error) {
	writeJSON(ctx, status, map[string]string{"error": err.Error()})
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json; charset=utf-8")
	ctx.SetStatusCode(status)
	ctx.SetBody(data)
}
