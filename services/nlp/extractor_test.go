// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package nlp

import (
	"context"
	"errors"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI returns canned model responses and records the requests it
// was sent.
type fakeAPI struct {
	transcript string
	chatJSON   string
	chatErr    error
	audioErr   error

	audioReq openai.AudioRequest
	chatReq  openai.ChatCompletionRequest
}

func (f *fakeAPI) CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error) {
	f.audioReq = req
	if f.audioErr != nil {
		return openai.AudioResponse{}, f.audioErr
	}
	return openai.AudioResponse{Text: f.transcript}, nil
}

func (f *fakeAPI) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.chatReq = req
	if f.chatErr != nil {
		return openai.ChatCompletionResponse{}, f.chatErr
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.chatJSON}},
		},
	}, nil
}

func newTestExtractor(api completionAPI) *Extractor {
	return &Extractor{
		api:          api,
		whisperModel: DefaultWhisperModel,
		chatModel:    DefaultChatModel,
	}
}

func TestExtractor_Transcribe(t *testing.T) {
	api := &fakeAPI{transcript: "  bid 120 dollars on group 3  "}
	e := newTestExtractor(api)

	text, err := e.Transcribe(context.Background(), "voice.webm", strings.NewReader("audio"), "en")
	require.NoError(t, err)
	assert.Equal(t, "bid 120 dollars on group 3", text)
	assert.Equal(t, "en", api.audioReq.Language)
}

func TestExtractor_TranscribeError(t *testing.T) {
	e := newTestExtractor(&fakeAPI{audioErr: errors.New("rate limited")})

	_, err := e.Transcribe(context.Background(), "voice.webm", strings.NewReader("audio"), "")
	require.Error(t, err)
}

func TestExtractor_ExtractIntent(t *testing.T) {
	e := newTestExtractor(&fakeAPI{
		chatJSON: `{"intent": "BID", "confidence": 0.9, "summary": "Bid 120 USDC on circle 3", "params": {"group_id": 3, "discount_usdc": 120}}`,
	})

	intent, err := e.ExtractIntent(context.Background(), "bid 120 dollars on group 3", "")
	require.NoError(t, err)
	assert.Equal(t, IntentBid, intent.Type)
	require.NotNil(t, intent.Bid)
	assert.Equal(t, uint64(3), intent.Bid.GroupID)
	assert.Equal(t, "bid 120 dollars on group 3", intent.Transcript)
	assert.Equal(t, "Bid 120 USDC on circle 3", intent.Summary)
	assert.False(t, intent.IsFallback)
}

func TestExtractor_LanguageHintShapesPrompt(t *testing.T) {
	api := &fakeAPI{
		chatJSON: `{"intent": "CHECK_TREASURY", "confidence": 0.9, "params": {}}`,
	}
	e := newTestExtractor(api)

	_, err := e.ExtractIntent(context.Background(), "meri bachat dikhao", "hi")
	require.NoError(t, err)
	require.NotEmpty(t, api.chatReq.Messages)
	assert.Contains(t, api.chatReq.Messages[0].Content, "Hindi")
}

func TestExtractor_EmptyTranscriptSkipsModel(t *testing.T) {
	e := newTestExtractor(&fakeAPI{chatErr: errors.New("must not be called")})

	intent, err := e.ExtractIntent(context.Background(), "   ", "")
	require.NoError(t, err)
	assert.Equal(t, IntentCheckTreasury, intent.Type)
	assert.True(t, intent.IsFallback)
}

func TestExtractor_LowConfidenceFallsBack(t *testing.T) {
	e := newTestExtractor(&fakeAPI{
		chatJSON: `{"intent": "CREATE_GROUP", "confidence": 0.2, "params": {"name": "x", "contribution_usdc": 1}}`,
	})

	intent, err := e.ExtractIntent(context.Background(), "please withdraw my dividends", "")
	require.NoError(t, err)
	assert.Equal(t, IntentWithdrawDividends, intent.Type)
	assert.True(t, intent.IsFallback)
}

func TestExtractor_ModelErrorFallsBack(t *testing.T) {
	e := newTestExtractor(&fakeAPI{chatErr: errors.New("api down")})

	intent, err := e.ExtractIntent(context.Background(), "I want to join the circle", "")
	require.NoError(t, err)
	assert.Equal(t, IntentJoinGroup, intent.Type)
}

func TestExtractor_GarbageModelOutputFallsBack(t *testing.T) {
	e := newTestExtractor(&fakeAPI{chatJSON: "sorry, I cannot help with that"})

	intent, err := e.ExtractIntent(context.Background(), "check the treasury balance", "")
	require.NoError(t, err)
	assert.Equal(t, IntentCheckTreasury, intent.Type)
}

func TestFallbackIntent_Keywords(t *testing.T) {
	tests := []struct {
		transcript string
		want       IntentType
	}{
		{"withdraw my dividends please", IntentWithdrawDividends},
		{"finalize group two", IntentFinalize},
		{"settle the auction", IntentFinalize},
		{"I bid one hundred", IntentBid},
		{"deposit my contribution", IntentContribute},
		{"pay into the pot", IntentContribute},
		{"join circle five", IntentJoinGroup},
		{"start a new circle", IntentCreateGroup},
		{"what's the weather", IntentCheckTreasury},
		{"", IntentCheckTreasury},
	}
	for _, tt := range tests {
		t.Run(tt.transcript, func(t *testing.T) {
			got := FallbackIntent(tt.transcript)
			assert.Equal(t, tt.want, got.Type)
			assert.Less(t, got.Confidence, minConfidence)
			assert.True(t, got.IsFallback)
		})
	}
}
