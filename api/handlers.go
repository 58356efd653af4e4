// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/ingestion"
)

type queryRequest struct {
	TenantID  string `json:"tenant_id" binding:"required"`
	SessionID string `json:"session_id"`
	Query     string `json:"query" binding:"required"`
}

type citation struct {
	ParentID string  `json:"parent_id"`
	Source   string  `json:"source"`
	Page     int     `json:"page"`
	Distance float32 `json:"distance"`
}

type queryResponse struct {
	ResponseText   string     `json:"response_text"`
	CitedParentIDs []string   `json:"cited_parent_ids"`
	Citations      []citation `json:"citations"`
	SessionID      string     `json:"session_id"`
	RewrittenQuery string     `json:"rewritten_query"`
	NoKnowledge    bool       `json:"no_knowledge"`
}

type notificationRequest struct {
	StoragePath string `json:"storage_path" binding:"required"`
	Fingerprint string `json:"content_fingerprint" binding:"required"`
	TenantID    string `json:"tenant_id"`
}

type notificationResponse struct {
	TenantID   string `json:"tenant_id"`
	DocumentID string `json:"document_id"`
}

type documentResponse struct {
	TenantID          string    `json:"tenant_id"`
	DocumentID        string    `json:"document_id"`
	StoragePath       string    `json:"storage_path"`
	Status            string    `json:"status"`
	DispatchState     string    `json:"dispatch_state"`
	ExpectedPageCount int       `json:"expected_page_count"`
	PagesCompleted    int       `json:"pages_completed"`
	PagesFailed       int       `json:"pages_failed"`
	FailureReason     string    `json:"failure_reason,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type turnResponse struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type sessionResponse struct {
	TenantID  string         `json:"tenant_id"`
	SessionID string         `json:"session_id"`
	Turns     []turnResponse `json:"turns"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(invalidInput(err))
		return
	}

	answer, err := s.asker.Ask(c.Request.Context(), core.TenantID(req.TenantID), req.SessionID, req.Query)
	if err != nil {
		c.Error(err)
		return
	}

	resp := queryResponse{
		ResponseText:   answer.Text,
		CitedParentIDs: make([]string, len(answer.CitedParentIDs)),
		Citations:      make([]citation, len(answer.Citations)),
		SessionID:      answer.SessionID,
		RewrittenQuery: answer.RewrittenQuery,
		NoKnowledge:    answer.NoKnowledge,
	}
	for i, id := range answer.CitedParentIDs {
		resp.CitedParentIDs[i] = id.String()
	}
	for i, cit := range answer.Citations {
		resp.Citations[i] = citation{ParentID: cit.ParentID.String(), Source: cit.Source, Page: cit.Page, Distance: cit.Distance}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) notify(c *gin.Context) {
	if s.uploads == nil {
		c.Error(ErrNotificationsDisabled)
		return
	}
	var req notificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(invalidInput(err))
		return
	}

	n, err := ingestion.PublishNotification(c.Request.Context(), s.uploads, core.Notification{
		StoragePath: req.StoragePath,
		Fingerprint: req.Fingerprint,
		Tenant:      core.TenantID(req.TenantID),
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, notificationResponse{
		TenantID:   string(n.Tenant),
		DocumentID: ingestion.NotificationID(n),
	})
}

func (s *Server) document(c *gin.Context) {
	tenant := core.TenantID(c.Param("tenant"))
	if err := core.ValidateTenant(tenant); err != nil {
		c.Error(err)
		return
	}
	id, err := core.ParseID(c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	doc, err := s.store.GetDocument(c.Request.Context(), tenant, id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, documentResponse{
		TenantID:          string(doc.Tenant),
		DocumentID:        doc.Id.String(),
		StoragePath:       doc.StoragePath,
		Status:            doc.Status.String(),
		DispatchState:     doc.DispatchState.String(),
		ExpectedPageCount: doc.ExpectedPageCount,
		PagesCompleted:    doc.PagesCompleted,
		PagesFailed:       doc.PagesFailed,
		FailureReason:     doc.FailureReason,
		UpdatedAt:         doc.UpdatedAt,
	})
}

func (s *Server) session(c *gin.Context) {
	tenant := core.TenantID(c.Param("tenant"))
	if err := core.ValidateTenant(tenant); err != nil {
		c.Error(err)
		return
	}
	sessionID := c.Param("session")
	if err := core.ValidateSessionID(sessionID); err != nil {
		c.Error(err)
		return
	}
	limit := DefaultSessionTurns
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.Error(invalidInput(err))
			return
		}
		limit = n
	}

	turns, err := s.store.RecentTurns(c.Request.Context(), tenant, sessionID, limit)
	if err != nil {
		c.Error(err)
		return
	}
	if len(turns) == 0 {
		c.Error(notFound(nil))
		return
	}

	resp := sessionResponse{TenantID: string(tenant), SessionID: sessionID, Turns: make([]turnResponse, len(turns))}
	for i, t := range turns {
		resp.Turns[i] = turnResponse{Role: string(t.Role), Text: t.Text, Timestamp: t.Timestamp}
	}
	c.JSON(http.StatusOK, resp)
}
