package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/castlemate/castlemate/internal/history"
	"github.com/castlemate/castlemate/internal/ledger"
	"github.com/castlemate/castlemate/internal/match"
	"github.com/castlemate/castlemate/internal/oracle"
	"github.com/castlemate/castlemate/internal/txguard"
)

var (
	walletA = strings.Repeat("A", 40)
	walletB = strings.Repeat("B", 40)
)

type fakeLedger struct {
	txs map[string]*ledger.Transaction
}

func (f *fakeLedger) Transaction(ctx context.Context, id string) (*ledger.Transaction, error) {
	tx, ok := f.txs[id]
	if !ok {
		return nil, ledger.ErrTxNotFound
	}
	return tx, nil
}

func (f *fakeLedger) DepositAddress(ctx context.Context, mint, owner string) (string, error) {
	return "addr:" + owner, nil
}

func (f *fakeLedger) SubmitTransfer(ctx context.Context, t *ledger.Transfer) (string, error) {
	return "payout-tx", nil
}

func testServer(t *testing.T) (*Server, *fakeLedger) {
	t.Helper()
	lc := &fakeLedger{txs: map[string]*ledger.Transaction{}}
	o := oracle.NewWithFetcher(func(ctx context.Context) (float64, error) {
		return 0.01, nil
	}, time.Minute, 0.001)
	settler := match.NewSettler(lc, nil, nil, match.SettleConfig{TokenDecimals: 6, CommissionRate: 0.10})
	m := match.NewManager(o, lc, txguard.NewMemoryGuard(), settler, match.Config{
		TokenSymbol:   "CHS",
		TokenMint:     "mint-1",
		TokenDecimals: 6,
	})
	return NewServer(m, history.NewMemoryRecorder()), lc
}

func doRequest(t *testing.T, s *Server, method, path, body string) *fasthttp.RequestCtx {
	t.Helper()
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI("http://test" + path)
	if body != "" {
		req.SetBodyString(body)
	}
	var ctx fasthttp.RequestCtx
	ctx.Init(&req, nil, nil)
	s.handle(&ctx)
	return &ctx
}

func decodeBody(t *testing.T, ctx *fasthttp.RequestCtx, v any) {
	t.Helper()
	if err := json.Unmarshal(ctx.Response.Body(), v); err != nil {
		t.Fatalf("decode response %q: %v", ctx.Response.Body(), err)
	}
}

func TestHealth(t *testing.T) {
	s, _ := testServer(t)
	ctx := doRequest(t, s, fasthttp.MethodGet, "/health", "")
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("status %d", ctx.Response.StatusCode())
	}
}

func TestRoomLifecycleOverHTTP(t *testing.T) {
	s, lc := testServer(t)

	ctx := doRequest(t, s, fasthttp.MethodPost, "/v1/rooms",
		fmt.Sprintf(`{"entryFeeUsd":5,"wallet":%q}`, walletA))
	if ctx.Response.StatusCode() != fasthttp.StatusCreated {
		t.Fatalf("create status %d: %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}
	var room match.RoomView
	decodeBody(t, ctx, &room)
	if room.TokenAmount != 500 {
		t.Fatalf("token amount %d", room.TokenAmount)
	}

	ctx = doRequest(t, s, fasthttp.MethodPost, "/v1/rooms/"+room.Code+"/join",
		fmt.Sprintf(`{"wallet":%q}`, walletB))
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("join status %d: %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}

	lc.txs["tx-a"] = &ledger.Transaction{ID: "tx-a", Status: ledger.TxSuccess}
	lc.txs["tx-b"] = &ledger.Transaction{ID: "tx-b", Status: ledger.TxSuccess}
	for _, pair := range [][2]string{{"tx-a", walletA}, {"tx-b", walletB}} {
		ctx = doRequest(t, s, fasthttp.MethodPost, "/v1/rooms/"+room.Code+"/payments",
			fmt.Sprintf(`{"txId":%q,"wallet":%q}`, pair[0], pair[1]))
		if ctx.Response.StatusCode() != fasthttp.StatusOK {
			t.Fatalf("payment status %d: %s", ctx.Response.StatusCode(), ctx.Response.Body())
		}
	}

	ctx = doRequest(t, s, fasthttp.MethodGet, "/v1/rooms/"+room.Code, "")
	var state match.RoomView
	decodeBody(t, ctx, &state)
	if state.Status != match.StatusPlaying {
		t.Fatalf("status %s after both payments", state.Status)
	}

	ctx = doRequest(t, s, fasthttp.MethodPost, "/v1/rooms/"+room.Code+"/moves",
		`{"playerId":0,"from":{"row":6,"col":4},"to":{"row":4,"col":4}}`)
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("move status %d: %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}
	var res match.MoveResult
	decodeBody(t, ctx, &res)
	if res.CurrentTurn != match.Black {
		t.Fatalf("turn %s after white move", res.CurrentTurn)
	}

	ctx = doRequest(t, s, fasthttp.MethodGet, "/v1/rooms/"+room.Code+"/board.png", "")
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("board.png status %d", ctx.Response.StatusCode())
	}
	if ct := string(ctx.Response.Header.ContentType()); ct != "image/png" {
		t.Fatalf("content type %q", ct)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	s, _ := testServer(t)

	ctx := doRequest(t, s, fasthttp.MethodGet, "/v1/rooms/ZZZZZZ", "")
	if ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Fatalf("unknown room status %d", ctx.Response.StatusCode())
	}

	ctx = doRequest(t, s, fasthttp.MethodPost, "/v1/rooms", `{"entryFeeUsd":0,"wallet":"x"}`)
	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Fatalf("bad create status %d", ctx.Response.StatusCode())
	}

	ctx = doRequest(t, s, fasthttp.MethodPost, "/v1/rooms", `{not json`)
	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Fatalf("malformed body status %d", ctx.Response.StatusCode())
	}

	ctx = doRequest(t, s, fasthttp.MethodGet, "/v1/unknown", "")
	if ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Fatalf("unknown path status %d", ctx.Response.StatusCode())
	}
}

func TestMissingPaymentTxIs404(t *testing.T) {
	s, _ := testServer(t)

	ctx := doRequest(t, s, fasthttp.MethodPost, "/v1/rooms",
		fmt.Sprintf(`{"entryFeeUsd":5,"wallet":%q}`, walletA))
	var room match.RoomView
	decodeBody(t, ctx, &room)
	doRequest(t, s, fasthttp.MethodPost, "/v1/rooms/"+room.Code+"/join",
		fmt.Sprintf(`{"wallet":%q}`, walletB))

	ctx = doRequest(t, s, fasthttp.MethodPost, "/v1/rooms/"+room.Code+"/payments",
		fmt.Sprintf(`{"txId":"missing","wallet":%q}`, walletA))
	if ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Fatalf("missing tx status %d: %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}
}

func TestProfileEndpoint(t *testing.T) {
	s, _ := testServer(t)

	ctx := doRequest(t, s, fasthttp.MethodGet, "/v1/profiles/"+walletA, "")
	if ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Fatalf("unknown profile status %d", ctx.Response.StatusCode())
	}
}
