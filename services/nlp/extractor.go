// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package nlp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// GroqBaseURL is Groq's OpenAI-compatible endpoint.
const GroqBaseURL = "https://api.groq.com/openai/v1"

// Default model selections. Groq serves both behind the OpenAI API
// surface.
const (
	DefaultWhisperModel = "whisper-large-v3"
	DefaultChatModel    = "llama-3.3-70b-versatile"
)

// minConfidence is the floor below which model output is distrusted
// and the keyword fallback takes over.
const minConfidence = 0.5

const systemPrompt = `You convert a user's spoken request about their rotating savings circle into one JSON object and nothing else.

Schema:
{"intent": "CREATE_GROUP|JOIN_GROUP|CONTRIBUTE|BID|FINALIZE|WITHDRAW_DIVIDENDS|CHECK_TREASURY|UNKNOWN",
 "confidence": 0.0-1.0,
 "summary": "one short English sentence restating the request",
 "params": {...}}

params by intent:
  CREATE_GROUP: name, contribution_usdc, max_members?, cycle_days?, auction_days?, min_discount_usdc?
  JOIN_GROUP: group_id
  CONTRIBUTE: group_id
  BID: group_id, discount_usdc
  FINALIZE: group_id
  WITHDRAW_DIVIDENDS, CHECK_TREASURY: {}

All amounts are in USDC. Use UNKNOWN with low confidence when the request does not match any action.`

// languageNames maps the hint codes the clients send onto prompt
// wording. Unknown codes pass through as-is.
var languageNames = map[string]string{
	"en": "English",
	"hi": "Hindi",
	"ta": "Tamil",
	"te": "Telugu",
}

// promptFor appends the language hint to the base prompt so the model
// reads transcripts in the speaker's language but still emits the
// English JSON schema.
func promptFor(language string) string {
	if language == "" {
		return systemPrompt
	}
	name, ok := languageNames[language]
	if !ok {
		name = language
	}
	return systemPrompt + "\n\nThe user speaks " + name +
		". The transcript may be in that language; keys and values in your JSON stay in English."
}

// Config configures the extractor.
type Config struct {
	// APIKey authenticates against Groq.
	APIKey string

	// BaseURL overrides the API endpoint. Default: GroqBaseURL.
	BaseURL string

	// WhisperModel is the transcription model. Default: DefaultWhisperModel.
	WhisperModel string

	// ChatModel is the intent extraction model. Default: DefaultChatModel.
	ChatModel string
}

// completionAPI is the slice of the OpenAI client the extractor uses,
// split out so tests can substitute canned responses.
type completionAPI interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Extractor transcribes audio and extracts typed intents.
type Extractor struct {
	api          completionAPI
	whisperModel string
	chatModel    string
}

// NewExtractor builds an Extractor talking to Groq.
func NewExtractor(cfg Config) (*Extractor, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("nlp: API key not configured")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL
	if clientCfg.BaseURL == "" {
		clientCfg.BaseURL = GroqBaseURL
	}

	e := &Extractor{
		api:          openai.NewClientWithConfig(clientCfg),
		whisperModel: cfg.WhisperModel,
		chatModel:    cfg.ChatModel,
	}
	if e.whisperModel == "" {
		e.whisperModel = DefaultWhisperModel
	}
	if e.chatModel == "" {
		e.chatModel = DefaultChatModel
	}
	return e, nil
}

// Transcribe converts an audio recording to text. filename carries the
// container format hint (e.g. "voice.webm"); language is an ISO 639-1
// code ("hi", "ta") steering the speech model, empty for auto-detect.
func (e *Extractor) Transcribe(ctx context.Context, filename string, audio io.Reader, language string) (string, error) {
	resp, err := e.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    e.whisperModel,
		FilePath: filename,
		Reader:   audio,
		Language: language,
	})
	if err != nil {
		return "", fmt.Errorf("nlp: transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// ExtractIntent maps a transcript to a typed Intent. language is the
// same hint given to Transcribe and shapes the extraction prompt.
//
// Model output below the confidence floor, or that fails validation,
// falls back to keyword matching so a clear "check my treasury" still
// works when the model has a bad day. Empty transcripts skip the model
// entirely.
func (e *Extractor) ExtractIntent(ctx context.Context, transcript, language string) (Intent, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return FallbackIntent(transcript), nil
	}

	resp, err := e.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.chatModel,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: promptFor(language)},
			{Role: openai.ChatMessageRoleUser, Content: transcript},
		},
	})
	if err != nil {
		slog.Warn("Intent extraction unavailable, using keyword fallback", "error", err)
		return FallbackIntent(transcript), nil
	}
	if len(resp.Choices) == 0 {
		return FallbackIntent(transcript), nil
	}

	intent, err := ParseIntent([]byte(resp.Choices[0].Message.Content))
	if err != nil {
		slog.Warn("Model produced unusable intent, using keyword fallback",
			"transcript", transcript, "error", err)
		return FallbackIntent(transcript), nil
	}
	if intent.Confidence < minConfidence {
		slog.Info("Low confidence extraction, using keyword fallback",
			"confidence", intent.Confidence)
		return FallbackIntent(transcript), nil
	}

	intent.Transcript = transcript
	return intent, nil
}

// FallbackIntent maps a transcript to an intent by keyword. It never
// fails: inputs matching nothing produce a CHECK_TREASURY intent at
// low confidence, which is read-only and safe to execute.
func FallbackIntent(transcript string) Intent {
	lower := strings.ToLower(transcript)

	has := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(lower, w) {
				return true
			}
		}
		return false
	}

	fallback := func(t IntentType, confidence float64) Intent {
		return Intent{Type: t, Confidence: confidence, Transcript: transcript, IsFallback: true}
	}

	switch {
	case has("withdraw"):
		return fallback(IntentWithdrawDividends, 0.4)
	case has("finalize", "settle"):
		return fallback(IntentFinalize, 0.3)
	case has("bid", "discount"):
		return fallback(IntentBid, 0.3)
	case has("contribute", "deposit", "pay"):
		return fallback(IntentContribute, 0.3)
	case has("join"):
		return fallback(IntentJoinGroup, 0.3)
	case has("create", "start", "new circle", "new group"):
		return fallback(IntentCreateGroup, 0.3)
	default:
		return fallback(IntentCheckTreasury, 0.2)
	}
}
