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
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Conn is the websocket surface the correlator needs. Satisfied by
// *gorilla/websocket.Conn.
type Conn interface {
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
	Close() error
}

// DefaultRequestTimeout bounds the wait for a gateway response.
const DefaultRequestTimeout = 10 * time.Second

// Correlator multiplexes request/response pairs over one gateway
// connection.
//
// Every outbound request carries a fresh UUID; the response echoing
// that id resolves exactly the matching waiter, so interleaved and
// out-of-order responses cannot cross wires. Responses arriving
// without a request id fall back to method-tag matching against the
// oldest waiter expecting that method (some gateway auth responses
// omit the id).
//
// A timed-out request releases its pending slot immediately; a late
// response to it is logged and dropped. When the connection dies,
// every pending and future request fails with ErrConnectionClosed.
type Correlator struct {
	conn    Conn
	timeout time.Duration

	mu       sync.Mutex
	pending  map[string]chan Inbound // request id -> waiter
	byMethod map[string][]string     // expected response method -> request ids, FIFO
	closed   bool

	// Notify receives unsolicited gateway messages (no request id, no
	// waiting method). Optional; nil drops them after logging.
	Notify func(msg Inbound)

	wg sync.WaitGroup
}

// NewCorrelator starts the read pump on conn. The returned Correlator
// owns the connection and closes it on Shutdown.
func NewCorrelator(conn Conn) *Correlator {
	c := &Correlator{
		conn:     conn,
		timeout:  DefaultRequestTimeout,
		pending:  make(map[string]chan Inbound),
		byMethod: make(map[string][]string),
	}
	c.wg.Add(1)
	go c.readPump()
	return c
}

// Call sends one request and blocks until its response, a timeout, or
// connection loss. responseMethod is the method tag expected on the
// response, used only for the id-less fallback; pass "" when the
// gateway always echoes ids for this method.
func (c *Correlator) Call(ctx context.Context, method, responseMethod string, params interface{}) (Inbound, error) {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return Inbound{}, err
		}
		raw = b
	}

	id := uuid.NewString()
	ch := make(chan Inbound, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Inbound{}, ErrConnectionClosed
	}
	c.pending[id] = ch
	if responseMethod != "" {
		c.byMethod[responseMethod] = append(c.byMethod[responseMethod], id)
	}
	c.mu.Unlock()

	err := c.conn.WriteJSON(Envelope{RequestID: id, Method: method, Params: raw})
	if err != nil {
		c.release(id)
		return Inbound{}, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-ch:
		if !ok {
			return Inbound{}, ErrConnectionClosed
		}
		if msg.Error != nil {
			return msg, msg.Error
		}
		return msg, nil
	case <-timer.C:
		// Free the slot now so a late response cannot resolve a waiter
		// that already gave up.
		c.release(id)
		return Inbound{}, &TimeoutError{Operation: method, Timeout: c.timeout}
	case <-ctx.Done():
		c.release(id)
		return Inbound{}, ctx.Err()
	}
}

// Shutdown closes the connection and waits for the read pump to exit.
func (c *Correlator) Shutdown() {
	c.conn.Close()
	c.wg.Wait()
}

func (c *Correlator) readPump() {
	defer c.wg.Done()

	for {
		var msg Inbound
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.failAll(err)
			return
		}
		c.dispatch(msg)
	}
}

func (c *Correlator) dispatch(msg Inbound) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Primary: exact request id match.
	if msg.RequestID != "" {
		if ch, ok := c.pending[msg.RequestID]; ok {
			c.removeLocked(msg.RequestID)
			ch <- msg
			return
		}
		slog.Debug("Dropping late gateway response",
			"request_id", msg.RequestID, "method", msg.Method)
		return
	}

	// Fallback: oldest waiter expecting this response method.
	if ids := c.byMethod[msg.Method]; len(ids) > 0 {
		id := ids[0]
		if ch, ok := c.pending[id]; ok {
			c.removeLocked(id)
			ch <- msg
			return
		}
	}

	// Unsolicited gateway errors are worth a log line even when nobody
	// is listening for them.
	if msg.Method == MethodError && msg.Error != nil {
		slog.Warn("Gateway reported error", "code", msg.Error.Code, "message", msg.Error.Message)
	}

	if c.Notify != nil {
		notify := c.Notify
		go notify(msg)
		return
	}
	slog.Debug("Unsolicited gateway message", "method", msg.Method)
}

// failAll marks the correlator closed and fails every pending waiter.
func (c *Correlator) failAll(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	slog.Warn("Gateway connection lost", "pending", len(c.pending), "error", cause)
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.byMethod = make(map[string][]string)
}

// release drops one pending entry, used on timeout or write failure.
func (c *Correlator) release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(id)
}

// removeLocked deletes the waiter and its method-queue entries.
// Caller holds mu.
func (c *Correlator) removeLocked(id string) {
	delete(c.pending, id)
	for method, ids := range c.byMethod {
		for i, v := range ids {
			if v == id {
				c.byMethod[method] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		if len(c.byMethod[method]) == 0 {
			delete(c.byMethod, method)
		}
	}
}
