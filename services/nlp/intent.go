// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package nlp turns voice recordings and free text into typed protocol
// intents. Transcription and extraction run against Groq's
// OpenAI-compatible API; everything downstream of this package works
// with validated, typed parameters only.
package nlp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// IntentType identifies a protocol action extracted from user input.
type IntentType string

const (
	IntentCreateGroup       IntentType = "CREATE_GROUP"
	IntentJoinGroup         IntentType = "JOIN_GROUP"
	IntentContribute        IntentType = "CONTRIBUTE"
	IntentBid               IntentType = "BID"
	IntentFinalize          IntentType = "FINALIZE"
	IntentWithdrawDividends IntentType = "WITHDRAW_DIVIDENDS"
	IntentCheckTreasury     IntentType = "CHECK_TREASURY"
	IntentUnknown           IntentType = "UNKNOWN"
)

// ErrUnknownIntent is returned when the extractor cannot map the input
// to a protocol action.
var ErrUnknownIntent = errors.New("unknown intent")

// Circle parameter defaults, applied when the speaker leaves them out.
const (
	DefaultMaxMembers      = 10
	DefaultCycleDuration   = 30 * 24 * time.Hour
	DefaultAuctionDuration = 2 * 24 * time.Hour
	DefaultMinDiscountUSDC = 100
)

var validate = validator.New()

// =============================================================================
// Parameter Types
// =============================================================================

// CreateGroupParams describes a new savings circle. Zero-valued
// optional fields are filled by ApplyDefaults.
type CreateGroupParams struct {
	Name             string  `json:"name" validate:"required"`
	ContributionUSDC float64 `json:"contribution_usdc" validate:"required,gt=0"`
	MaxMembers       uint64  `json:"max_members" validate:"omitempty,gte=2,lte=100"`
	CycleDays        uint64  `json:"cycle_days" validate:"omitempty,gte=1"`
	AuctionDays      uint64  `json:"auction_days" validate:"omitempty,gte=1"`
	MinDiscountUSDC  float64 `json:"min_discount_usdc" validate:"omitempty,gt=0"`
}

// ApplyDefaults fills unset optional fields.
func (p *CreateGroupParams) ApplyDefaults() {
	if p.MaxMembers == 0 {
		p.MaxMembers = DefaultMaxMembers
	}
	if p.CycleDays == 0 {
		p.CycleDays = uint64(DefaultCycleDuration / (24 * time.Hour))
	}
	if p.AuctionDays == 0 {
		p.AuctionDays = uint64(DefaultAuctionDuration / (24 * time.Hour))
	}
	if p.MinDiscountUSDC == 0 {
		p.MinDiscountUSDC = DefaultMinDiscountUSDC
	}
}

// JoinGroupParams targets an existing circle.
type JoinGroupParams struct {
	GroupID uint64 `json:"group_id" validate:"required,gt=0"`
}

// ContributeParams deposits one cycle's contribution.
type ContributeParams struct {
	GroupID uint64 `json:"group_id" validate:"required,gt=0"`
}

// BidParams places a discount bid in the group's auction.
type BidParams struct {
	GroupID      uint64  `json:"group_id" validate:"required,gt=0"`
	DiscountUSDC float64 `json:"discount_usdc" validate:"required,gt=0"`
}

// FinalizeParams settles the group's current auction.
type FinalizeParams struct {
	GroupID uint64 `json:"group_id" validate:"required,gt=0"`
}

// =============================================================================
// Intent
// =============================================================================

// Intent is one validated protocol action. Exactly the field matching
// Type is non-nil; WITHDRAW_DIVIDENDS and CHECK_TREASURY carry no
// parameters.
type Intent struct {
	Type       IntentType `json:"intent"`
	Confidence float64    `json:"confidence"`
	Summary    string     `json:"summary,omitempty"`
	Transcript string     `json:"transcript,omitempty"`

	// IsFallback marks intents produced by keyword matching rather than
	// the model.
	IsFallback bool `json:"is_fallback,omitempty"`

	CreateGroup *CreateGroupParams `json:"create_group,omitempty"`
	JoinGroup   *JoinGroupParams   `json:"join_group,omitempty"`
	Contribute  *ContributeParams  `json:"contribute,omitempty"`
	Bid         *BidParams         `json:"bid,omitempty"`
	Finalize    *FinalizeParams    `json:"finalize,omitempty"`
}

// GroupID returns the group the intent targets, or 0 for intents that
// do not target one.
func (i Intent) GroupID() uint64 {
	switch {
	case i.JoinGroup != nil:
		return i.JoinGroup.GroupID
	case i.Contribute != nil:
		return i.Contribute.GroupID
	case i.Bid != nil:
		return i.Bid.GroupID
	case i.Finalize != nil:
		return i.Finalize.GroupID
	default:
		return 0
	}
}

// rawIntent is the model's JSON shape: a type tag, a confidence, a
// one-line summary, and a loose parameter bag.
type rawIntent struct {
	Intent     string          `json:"intent"`
	Confidence float64         `json:"confidence"`
	Summary    string          `json:"summary"`
	Params     json.RawMessage `json:"params"`
}

// ParseIntent decodes and validates the model's JSON output into a
// typed Intent. Defaults are applied before validation so a minimal
// "create a circle called X with 50 dollars" passes.
func ParseIntent(data []byte) (Intent, error) {
	var raw rawIntent
	if err := json.Unmarshal(data, &raw); err != nil {
		return Intent{}, fmt.Errorf("parse intent: %w", err)
	}

	intent := Intent{
		Type:       IntentType(raw.Intent),
		Confidence: raw.Confidence,
		Summary:    raw.Summary,
	}

	params := raw.Params
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}

	switch intent.Type {
	case IntentCreateGroup:
		var p CreateGroupParams
		if err := decodeParams(params, &p); err != nil {
			return Intent{}, err
		}
		p.ApplyDefaults()
		if err := validate.Struct(&p); err != nil {
			return Intent{}, fmt.Errorf("create group params: %w", err)
		}
		intent.CreateGroup = &p
	case IntentJoinGroup:
		var p JoinGroupParams
		if err := decodeParams(params, &p); err != nil {
			return Intent{}, err
		}
		if err := validate.Struct(&p); err != nil {
			return Intent{}, fmt.Errorf("join group params: %w", err)
		}
		intent.JoinGroup = &p
	case IntentContribute:
		var p ContributeParams
		if err := decodeParams(params, &p); err != nil {
			return Intent{}, err
		}
		if err := validate.Struct(&p); err != nil {
			return Intent{}, fmt.Errorf("contribute params: %w", err)
		}
		intent.Contribute = &p
	case IntentBid:
		var p BidParams
		if err := decodeParams(params, &p); err != nil {
			return Intent{}, err
		}
		if err := validate.Struct(&p); err != nil {
			return Intent{}, fmt.Errorf("bid params: %w", err)
		}
		intent.Bid = &p
	case IntentFinalize:
		var p FinalizeParams
		if err := decodeParams(params, &p); err != nil {
			return Intent{}, err
		}
		if err := validate.Struct(&p); err != nil {
			return Intent{}, fmt.Errorf("finalize params: %w", err)
		}
		intent.Finalize = &p
	case IntentWithdrawDividends, IntentCheckTreasury:
		// No parameters.
	default:
		return Intent{}, fmt.Errorf("%w: %q", ErrUnknownIntent, raw.Intent)
	}

	return intent, nil
}

func decodeParams(data json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse intent params: %w", err)
	}
	return nil
}
