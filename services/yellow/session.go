// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package yellow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// SessionState tracks the gateway connection lifecycle.
type SessionState int

const (
	// StateUninitialized means no handshake has been attempted.
	StateUninitialized SessionState = iota

	// StateAuthenticating means the challenge handshake is in flight.
	StateAuthenticating

	// StateReady means the gateway accepted the wallet signature and
	// sessions may be opened.
	StateReady

	// StateClosed means the connection is gone. A new SessionManager is
	// required; instances are not reusable after close.
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// groupSession is one open state channel.
type groupSession struct {
	id    string
	nonce uint64
	mu    sync.Mutex // serializes state submissions per group
}

// SessionManager drives the gateway handshake and the per-group state
// channel sessions on top of a Correlator.
//
// Submissions for the same group are serialized; different groups
// proceed concurrently. The session table is the only shared state and
// is mutex guarded.
type SessionManager struct {
	corr   *Correlator
	signer Signer

	mu       sync.Mutex
	state    SessionState
	sessions map[uint64]*groupSession
}

// NewSessionManager wires a correlator and signer. Call Authenticate
// before opening sessions.
func NewSessionManager(corr *Correlator, signer Signer) *SessionManager {
	return &SessionManager{
		corr:     corr,
		signer:   signer,
		state:    StateUninitialized,
		sessions: make(map[uint64]*groupSession),
	}
}

// State returns the current lifecycle state.
func (m *SessionManager) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Ready reports whether sessions can be opened.
func (m *SessionManager) Ready() bool {
	return m.State() == StateReady
}

// Authenticate runs the two-step challenge handshake: request a
// challenge, sign it with the wallet key, submit the signature. Any
// failure leaves the manager closed and returns an error wrapping
// ErrAuthenticationFailed, signaling the orchestrator to degrade to
// basic mode.
func (m *SessionManager) Authenticate(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateUninitialized {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: authenticate in state %s", ErrAuthenticationFailed, state)
	}
	m.state = StateAuthenticating
	m.mu.Unlock()

	if err := m.handshake(ctx); err != nil {
		m.setState(StateClosed)
		return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}

	m.setState(StateReady)
	slog.Info("Gateway authenticated", "wallet", m.signer.Address().Hex())
	return nil
}

func (m *SessionManager) handshake(ctx context.Context) error {
	resp, err := m.corr.Call(ctx, MethodAuthRequest, MethodAuthChallenge, nil)
	if err != nil {
		return err
	}

	var challenge AuthChallenge
	if err := json.Unmarshal(resp.Result, &challenge); err != nil {
		return fmt.Errorf("decode challenge: %w", err)
	}
	if challenge.Challenge == "" {
		return fmt.Errorf("empty challenge")
	}

	signature, err := m.signer.SignChallenge(challenge.Challenge)
	if err != nil {
		return err
	}

	_, err = m.corr.Call(ctx, MethodAuthVerify, MethodAuthSuccess, AuthVerifyParams{
		Address:   m.signer.Address().Hex(),
		Challenge: challenge.Challenge,
		Signature: signature,
	})
	return err
}

// StartSession opens a state channel for the group. Opening a group
// that already has a session returns the existing session id.
func (m *SessionManager) StartSession(ctx context.Context, groupID uint64) (string, error) {
	m.mu.Lock()
	if m.state != StateReady {
		state := m.state
		m.mu.Unlock()
		return "", fmt.Errorf("start session in state %s: %w", state, ErrConnectionClosed)
	}
	if existing, ok := m.sessions[groupID]; ok {
		m.mu.Unlock()
		return existing.id, nil
	}
	m.mu.Unlock()

	resp, err := m.corr.Call(ctx, MethodSessionOpen, "", SessionOpenParams{
		GroupID: groupID,
		Wallet:  m.signer.Address().Hex(),
	})
	if err != nil {
		return "", err
	}

	var result SessionOpenResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", fmt.Errorf("decode session id: %w", err)
	}
	if result.SessionID == "" {
		return "", fmt.Errorf("gateway returned empty session id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// A concurrent open for the same group may have won; keep the first.
	if existing, ok := m.sessions[groupID]; ok {
		return existing.id, nil
	}
	m.sessions[groupID] = &groupSession{id: result.SessionID}

	slog.Info("Session opened", "group_id", groupID, "session_id", result.SessionID)
	return result.SessionID, nil
}

// SubmitState sends one state update under the group's session.
// Submissions for the same group are serialized and carry a strictly
// increasing nonce.
func (m *SessionManager) SubmitState(ctx context.Context, groupID uint64, kind string, payload interface{}) error {
	m.mu.Lock()
	sess, ok := m.sessions[groupID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("group %d: %w", groupID, ErrNoSession)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.nonce++
	_, err = m.corr.Call(ctx, MethodStateSubmit, "", StateSubmitParams{
		SessionID: sess.id,
		GroupID:   groupID,
		Kind:      kind,
		Payload:   raw,
		Nonce:     sess.nonce,
	})
	if err != nil {
		// The gateway never saw this nonce; reuse it next time so the
		// sequence stays dense.
		sess.nonce--
		return err
	}
	return nil
}

// SubmitBid is a convenience wrapper submitting a bid state update.
func (m *SessionManager) SubmitBid(ctx context.Context, groupID uint64, bid BidState) error {
	return m.SubmitState(ctx, groupID, "bid", bid)
}

// CloseSession finalizes the group's session. Unknown groups are a
// no-op; close failures are returned but the local session entry is
// removed regardless, since the sweeper calls this after settlement
// and a dangling entry would block future cycles.
func (m *SessionManager) CloseSession(ctx context.Context, groupID uint64) error {
	m.mu.Lock()
	sess, ok := m.sessions[groupID]
	if ok {
		delete(m.sessions, groupID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	_, err := m.corr.Call(ctx, MethodSessionClose, "", SessionCloseParams{
		SessionID: sess.id,
		GroupID:   groupID,
	})
	if err != nil {
		slog.Warn("Session close failed", "group_id", groupID, "error", err)
		return err
	}
	slog.Info("Session closed", "group_id", groupID, "session_id", sess.id)
	return nil
}

// OpenSessions returns the group ids with open sessions.
func (m *SessionManager) OpenSessions() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint64, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	return out
}

// Close shuts down the manager and the underlying connection.
func (m *SessionManager) Close() {
	m.setState(StateClosed)
	m.corr.Shutdown()
}

func (m *SessionManager) setState(s SessionState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}
