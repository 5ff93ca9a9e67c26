// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// ConversationLimiter rate limits turns per conversation id.
//
// Each conversation gets its own token bucket; a burst of 1 turn is
// allowed on top of the steady rate. Limiters for idle conversations are
// kept for the process lifetime, which is acceptable at the conversation
// counts this service sees.
type ConversationLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewConversationLimiter creates a limiter allowing turnsPerMinute
// sustained turns per conversation.
func NewConversationLimiter(turnsPerMinute int) *ConversationLimiter {
	return &ConversationLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(float64(turnsPerMinute) / 60.0),
		burst:    turnsPerMinute,
	}
}

// Allow reports whether a turn on the conversation may proceed now.
func (l *ConversationLimiter) Allow(conversationID string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[conversationID]
	if !ok {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[conversationID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// RateLimitMiddleware rejects turns exceeding the per-conversation rate
// with 429. The conversation id comes from the X-Conversation-Id header;
// requests without one share the empty-key bucket.
func RateLimitMiddleware(limiter *ConversationLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.GetHeader("X-Conversation-Id")) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
