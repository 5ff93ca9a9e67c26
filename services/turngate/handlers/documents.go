// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/TurnGate/services/turngate/policy"
	"github.com/AleutianAI/TurnGate/services/turngate/retrieval"
)

var (
	chunkSize    = 1000
	chunkOverlap = chunkSize / 10

	defaultSeparators = []string{"\n\n", "\n", " ", ""}
	codeSeparators    = []string{
		"\nfunc ", "\nclass ", "\ndef ", "\ntype ",
		"\n\n", "\n", " ", "",
	}
	markdownSeparators = []string{
		"\n# ", "\n## ", "\n### ", "\n#### ",
		"\n\n", "\n", " ", "",
	}
)

// IngestDocumentRequest is the body of POST /v1/documents.
type IngestDocumentRequest struct {
	Content       string  `json:"content"`
	Source        string  `json:"source"`
	StoreID       string  `json:"store_id"`
	LineageKey    string  `json:"lineage_key"`
	AuthorityRank float64 `json:"authority_rank"`
}

// CreateDocument ingests a document into a configured store.
//
// # Description
//
// The content is scanned by the policy engine before anything touches
// storage; a high-confidence secret finding rejects the whole document.
// Accepted content is chunked with a source-appropriate splitter and
// batch imported into the store's class. Chunk IDs are derived from the
// chunk hash, so re-ingesting the same content is idempotent.
func CreateDocument(client *weaviate.Client, router *retrieval.Router, engine *policy.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req IngestDocumentRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if req.Content == "" || req.Source == "" || req.StoreID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "content, source and store_id are required"})
			return
		}
		if req.LineageKey == "" {
			req.LineageKey = req.Source
		}

		class, ok := router.ClassFor(req.StoreID)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown store %q", req.StoreID)})
			return
		}

		findings := engine.Scan(req.Content)
		if policy.Blocking(findings) {
			names := make([]string, 0, len(findings))
			for _, f := range findings {
				names = append(names, f.Classification)
			}
			slog.Warn("Document rejected by policy scan",
				"source", req.Source, "findings", names)
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":    "content failed policy scan",
				"code":     "policy_violation",
				"findings": names,
			})
			return
		}

		chunksCreated, err := runIngestion(c, client, class, req)
		if err != nil {
			slog.Error("Ingestion failed", "source", req.Source, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ingestion failed"})
			return
		}

		slog.Info("Document ingested",
			"source", req.Source, "store_id", req.StoreID, "chunks", chunksCreated)
		c.JSON(http.StatusCreated, gin.H{
			"status":           "success",
			"source":           req.Source,
			"store_id":         req.StoreID,
			"chunks_processed": chunksCreated,
		})
	}
}

// runIngestion splits the document and batch imports the chunks.
func runIngestion(c *gin.Context, client *weaviate.Client, class string, req IngestDocumentRequest) (int, error) {
	splitter := splitterForSource(req.Source)

	chunks, err := splitter.SplitText(req.Content)
	if err != nil {
		return 0, fmt.Errorf("split content: %w", err)
	}
	if len(chunks) == 0 {
		slog.Warn("No chunks produced after splitting", "source", req.Source)
		return 0, nil
	}

	now := time.Now().UnixMilli()
	objects := make([]*models.Object, len(chunks))
	for i, chunk := range chunks {
		hash := sha256.Sum256([]byte(chunk))
		docUUID, _ := uuid.FromBytes(hash[:16])

		objects[i] = &models.Object{
			Class: class,
			ID:    strfmt.UUID(docUUID.String()),
			Properties: map[string]interface{}{
				"content":        chunk,
				"source_id":      fmt.Sprintf("%s_part_%d", req.Source, i+1),
				"lineage_key":    req.LineageKey,
				"authority_rank": req.AuthorityRank,
				"created_at":     float64(now),
				"parent_source":  req.Source,
			},
		}
	}

	resp, err := client.Batch().ObjectsBatcher().WithObjects(objects...).Do(c.Request.Context())
	if err != nil {
		return 0, fmt.Errorf("batch import: %w", err)
	}

	created := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			created++
			continue
		}
		if item.Result != nil && item.Result.Errors != nil {
			for _, errItem := range item.Result.Errors.Error {
				slog.Warn("Batch item failed", "source", req.Source, "error", errItem.Message)
			}
		}
	}
	return created, nil
}

// splitterForSource picks separators by file extension. Markdown and code
// split on structure; everything else on paragraphs.
func splitterForSource(source string) textsplitter.TextSplitter {
	lower := strings.ToLower(source)
	separators := defaultSeparators
	switch {
	case strings.HasSuffix(lower, ".md"), strings.HasSuffix(lower, ".markdown"):
		separators = markdownSeparators
	case strings.HasSuffix(lower, ".go"), strings.HasSuffix(lower, ".py"),
		strings.HasSuffix(lower, ".ts"), strings.HasSuffix(lower, ".js"):
		separators = codeSeparators
	}
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
		textsplitter.WithSeparators(separators),
	)
}

// ListStoreDocuments serves GET /v1/stores/:storeId/documents with offset
// and limit query parameters.
func ListStoreDocuments(inv *retrieval.Inventory) gin.HandlerFunc {
	return func(c *gin.Context) {
		storeID := c.Param("storeId")

		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if offset < 0 || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be >= 0 and limit > 0"})
			return
		}

		page, err := inv.List(c.Request.Context(), storeID, offset, limit)
		if err != nil {
			slog.Error("Inventory listing failed", "store_id", storeID, "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "inventory listing failed"})
			return
		}
		c.JSON(http.StatusOK, page)
	}
}
