// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Neurvinch/eth-global-hackmoney/services/chain"
	"github.com/Neurvinch/eth-global-hackmoney/services/nlp"
	"github.com/Neurvinch/eth-global-hackmoney/services/orchestrator"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubChain serves a small fixed protocol state.
type stubChain struct {
	groups map[uint64]chain.Group
}

func (s *stubChain) tx() chain.TxResult {
	return chain.TxResult{TxHash: common.HexToHash("0xbeef")}
}

func (s *stubChain) CreateGroup(ctx context.Context, spec chain.CreateGroupSpec) (chain.TxResult, error) {
	return s.tx(), nil
}
func (s *stubChain) JoinGroup(ctx context.Context, groupID uint64) (chain.TxResult, error) {
	return s.tx(), nil
}
func (s *stubChain) DepositContribution(ctx context.Context, groupID uint64) (chain.TxResult, error) {
	return s.tx(), nil
}
func (s *stubChain) PlaceBid(ctx context.Context, groupID uint64, discount *big.Int) (chain.TxResult, error) {
	return s.tx(), nil
}
func (s *stubChain) SettleAuction(ctx context.Context, groupID uint64) (chain.TxResult, error) {
	return s.tx(), nil
}
func (s *stubChain) WithdrawDividends(ctx context.Context) (chain.TxResult, error) {
	return s.tx(), nil
}
func (s *stubChain) GroupCount(ctx context.Context) (uint64, error) {
	return uint64(len(s.groups)), nil
}
func (s *stubChain) GroupByID(ctx context.Context, id uint64) (chain.Group, error) {
	g, ok := s.groups[id]
	if !ok {
		return chain.Group{}, chain.ErrGroupNotFound
	}
	return g, nil
}
func (s *stubChain) GetHighestBid(ctx context.Context, groupID uint64) (common.Address, *big.Int, error) {
	return common.Address{}, big.NewInt(0), nil
}
func (s *stubChain) IsMemberOf(ctx context.Context, groupID uint64, addr common.Address) (bool, error) {
	return false, nil
}
func (s *stubChain) PendingDividends(ctx context.Context, addr common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (s *stubChain) SignerAddress() common.Address {
	return common.HexToAddress("0x8ba1f109551bD432803012645Ac136ddd64DBA72")
}

type stubTreasury struct{}

func (stubTreasury) EnsureAllowance(ctx context.Context, amount *big.Int) error { return nil }
func (stubTreasury) BatchDistribute(ctx context.Context, payouts []chain.Payout) []chain.PayoutResult {
	results := make([]chain.PayoutResult, 0, len(payouts))
	for _, p := range payouts {
		results = append(results, chain.PayoutResult{Recipient: p.Recipient, TxHash: common.HexToHash("0xfee")})
	}
	return results
}
func (stubTreasury) Status(ctx context.Context) (chain.TreasuryStatus, error) {
	return chain.TreasuryStatus{Balance: "500.00"}, nil
}

// stubIntents returns a fixed transcript and intent, recording the
// language hints it was given.
type stubIntents struct {
	transcript     string
	intent         nlp.Intent
	extractErr     error
	transcribeLang string
	extractLang    string
}

func (s *stubIntents) Transcribe(ctx context.Context, filename string, audio io.Reader, language string) (string, error) {
	s.transcribeLang = language
	return s.transcript, nil
}

func (s *stubIntents) ExtractIntent(ctx context.Context, transcript, language string) (nlp.Intent, error) {
	s.extractLang = language
	if s.extractErr != nil {
		return nlp.Intent{}, s.extractErr
	}
	return s.intent, nil
}

func newTestRouter(intents IntentSource, groups map[uint64]chain.Group) *gin.Engine {
	if groups == nil {
		groups = map[uint64]chain.Group{}
	}
	orch := orchestrator.New(&stubChain{groups: groups}, stubTreasury{}, nil, chain.NewFeed(10), nil)
	return NewRouter(orch, intents, stubResolver{})
}

type stubResolver struct{}

func (stubResolver) Resolve(ctx context.Context, name string) (common.Address, error) {
	if name == "alice.eth" {
		return common.HexToAddress("0x8ba1f109551bD432803012645Ac136ddd64DBA72"), nil
	}
	return common.Address{}, chain.ErrNameNotFound
}

func (stubResolver) Text(ctx context.Context, name, key string) (string, error) {
	return "https://example.org", nil
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(&stubIntents{}, nil)
	w := doJSON(t, router, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestExecuteIntent_Text(t *testing.T) {
	router := newTestRouter(&stubIntents{
		intent: nlp.Intent{Type: nlp.IntentCheckTreasury, Confidence: 0.9},
	}, nil)

	w := doJSON(t, router, http.MethodPost, "/api/execute-intent", `{"text": "check the treasury"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var result orchestrator.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, nlp.IntentCheckTreasury, result.Intent)
	require.NotNil(t, result.Treasury)
	assert.Equal(t, "500.00", result.Treasury.Balance)
}

func TestExecuteIntent_MissingText(t *testing.T) {
	router := newTestRouter(&stubIntents{}, nil)
	w := doJSON(t, router, http.MethodPost, "/api/execute-intent", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExecuteSingleAction(t *testing.T) {
	router := newTestRouter(&stubIntents{}, nil)

	w := doJSON(t, router, http.MethodPost, "/api/execute-single-action",
		`{"intent": "BID", "confidence": 1, "params": {"group_id": 1, "discount_usdc": 50}}`)
	require.Equal(t, http.StatusOK, w.Code)

	var result orchestrator.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, nlp.IntentBid, result.Intent)
	assert.NotEmpty(t, result.TxHash)
}

func TestExecuteSingleAction_InvalidIntent(t *testing.T) {
	router := newTestRouter(&stubIntents{}, nil)
	w := doJSON(t, router, http.MethodPost, "/api/execute-single-action",
		`{"intent": "LAUNCH_ROCKET", "confidence": 1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProcessVoice(t *testing.T) {
	intents := &stubIntents{
		transcript: "check my treasury",
		intent:     nlp.Intent{Type: nlp.IntentCheckTreasury, Confidence: 0.9, Transcript: "check my treasury"},
	}
	router := newTestRouter(intents, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("audio", "voice.webm")
	require.NoError(t, err)
	_, err = part.Write([]byte("fake-audio-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("language", "hi"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/process-voice", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var result orchestrator.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "check my treasury", result.Transcript)

	// The language hint reaches both transcription and extraction.
	assert.Equal(t, "hi", intents.transcribeLang)
	assert.Equal(t, "hi", intents.extractLang)
}

func TestExecuteIntent_LanguageHint(t *testing.T) {
	intents := &stubIntents{
		intent: nlp.Intent{Type: nlp.IntentCheckTreasury, Confidence: 0.9},
	}
	router := newTestRouter(intents, nil)

	w := doJSON(t, router, http.MethodPost, "/api/execute-intent",
		`{"text": "meri bachat dekho", "language": "hi"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hi", intents.extractLang)
}

func TestProcessVoice_MissingUpload(t *testing.T) {
	router := newTestRouter(&stubIntents{}, nil)
	w := doJSON(t, router, http.MethodPost, "/api/process-voice", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDistribute(t *testing.T) {
	router := newTestRouter(&stubIntents{}, nil)

	w := doJSON(t, router, http.MethodPost, "/api/treasury/distribute",
		`{"payouts": [{"recipient": "0x3333333333333333333333333333333333333333", "amount_usdc": 100}]}`)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Payouts []orchestrator.PayoutOutcome `json:"payouts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Payouts, 1)
	assert.NotEmpty(t, body.Payouts[0].TxHash)
}

func TestDistribute_InvalidRecipient(t *testing.T) {
	router := newTestRouter(&stubIntents{}, nil)

	w := doJSON(t, router, http.MethodPost, "/api/treasury/distribute",
		`{"payouts": [{"recipient": "nobody", "amount_usdc": 100}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/treasury/distribute", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCircles(t *testing.T) {
	router := newTestRouter(&stubIntents{}, map[uint64]chain.Group{
		1: {ID: 1, Name: "alpha", IsActive: true},
	})

	w := doJSON(t, router, http.MethodGet, "/api/circles", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Circles []orchestrator.GroupSummary `json:"circles"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Circles, 1)
	assert.Equal(t, "alpha", body.Circles[0].Name)
}

func TestCircleByID(t *testing.T) {
	router := newTestRouter(&stubIntents{}, map[uint64]chain.Group{
		1: {ID: 1, Name: "alpha", IsActive: true},
	})

	w := doJSON(t, router, http.MethodGet, "/api/circles/1", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/circles/99", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/circles/zero", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestActivity(t *testing.T) {
	router := newTestRouter(&stubIntents{}, nil)

	w := doJSON(t, router, http.MethodGet, "/api/activity", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/activity?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResolveENS(t *testing.T) {
	router := newTestRouter(&stubIntents{}, nil)

	w := doJSON(t, router, http.MethodGet, "/api/ens/alice.eth", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "0x8ba1f109551bD432803012645Ac136ddd64DBA72")

	w = doJSON(t, router, http.MethodGet, "/api/ens/nobody.eth", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProtocolStatus(t *testing.T) {
	router := newTestRouter(&stubIntents{}, nil)

	w := doJSON(t, router, http.MethodGet, "/api/protocol-status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var status orchestrator.ProtocolStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.BasicMode, "nil gateway runs in basic mode")
}
