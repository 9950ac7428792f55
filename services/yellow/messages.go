// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package yellow talks to the off-chain clearing gateway over a single
// websocket connection: request/response correlation, the two-step
// authentication handshake, and per-group state channel sessions.
//
// The gateway is an availability optimization. Every operation here has
// an on-chain fallback, so failures degrade the orchestrator to basic
// mode instead of stopping it.
package yellow

import "encoding/json"

// Request method tags understood by the gateway.
const (
	MethodAuthRequest  = "auth_request"
	MethodAuthVerify   = "auth_verify"
	MethodSessionOpen  = "session_open"
	MethodStateSubmit  = "state_submit"
	MethodSessionClose = "session_close"
)

// Response method tags. Used as the correlation fallback when a
// response arrives without a request id.
const (
	MethodAuthChallenge = "auth_challenge"
	MethodAuthSuccess   = "auth_success"
	MethodError         = "error"
)

// Envelope is an outbound gateway request. RequestID is a fresh UUID
// per request; the gateway echoes it in the response.
type Envelope struct {
	RequestID string          `json:"request_id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// Inbound is any message from the gateway: a correlated response or an
// unsolicited notification.
type Inbound struct {
	RequestID string          `json:"request_id,omitempty"`
	Method    string          `json:"method"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *GatewayError   `json:"error,omitempty"`
}

// GatewayError is a structured failure inside an otherwise valid
// response.
type GatewayError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *GatewayError) Error() string {
	return e.Message
}

// =============================================================================
// Payloads
// =============================================================================

// AuthChallenge is the gateway's response to auth_request.
type AuthChallenge struct {
	Challenge string `json:"challenge"`
}

// AuthVerifyParams carries the signed challenge back to the gateway.
type AuthVerifyParams struct {
	Address   string `json:"address"`
	Challenge string `json:"challenge"`
	Signature string `json:"signature"`
}

// SessionOpenParams opens a state channel session for one group.
type SessionOpenParams struct {
	GroupID uint64 `json:"group_id"`
	Wallet  string `json:"wallet"`
}

// SessionOpenResult is the gateway's session handle.
type SessionOpenResult struct {
	SessionID string `json:"session_id"`
}

// StateSubmitParams submits one off-chain state update (typically a
// bid) under an open session.
type StateSubmitParams struct {
	SessionID string          `json:"session_id"`
	GroupID   uint64          `json:"group_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Nonce     uint64          `json:"nonce"`
}

// SessionCloseParams finalizes a session.
type SessionCloseParams struct {
	SessionID string `json:"session_id"`
	GroupID   uint64 `json:"group_id"`
}

// BidState is the payload for a state_submit of kind "bid".
type BidState struct {
	Bidder   string `json:"bidder"`
	Discount string `json:"discount"` // micro-USDC, decimal string
}
