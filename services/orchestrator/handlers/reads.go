// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Neurvinch/eth-global-hackmoney/services/orchestrator"
)

// ProtocolStatus serves the aggregate protocol view.
func ProtocolStatus(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := orch.GetProtocolStatus(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

// Activity serves recent protocol events, newest first. Optional
// ?limit=N query, default everything held.
func Activity(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
			limit = n
		}
		c.JSON(http.StatusOK, gin.H{"activity": orch.GetRecentActivity(limit)})
	}
}

// Circles lists all active savings circles.
func Circles(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		circles, err := orch.GetActiveCircles(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"circles": circles})
	}
}

// ResolveENS maps an ENS name to its address and url text record.
// Lookups are best effort; without an ENS deployment the route reports
// unavailability rather than failing requests elsewhere.
func ResolveENS(resolver NameResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if resolver == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ENS resolution not configured"})
			return
		}
		name := c.Param("name")

		addr, err := resolver.Resolve(c.Request.Context(), name)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		// Text records are optional decoration.
		url, _ := resolver.Text(c.Request.Context(), name, "url")
		c.JSON(http.StatusOK, gin.H{"name": name, "address": addr.Hex(), "url": url})
	}
}

// CircleByID serves one circle's detail.
func CircleByID(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil || id == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid circle id"})
			return
		}

		summary, err := orch.GetGroupInfo(c.Request.Context(), id)
		if err != nil {
			writeIntentError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}
