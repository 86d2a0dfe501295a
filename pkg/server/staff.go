// Copyright 2025 Peerex, Ltd.
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

package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/peerex/hermod/pkg/auth"
	"github.com/peerex/hermod/pkg/escalation"
	"github.com/peerex/hermod/pkg/faq"
)

// staffID resolves the acting staff member: the JWT subject when the
// request is authenticated, else the explicit id from the request body
// (development setups without auth).
func staffID(r *http.Request, bodyID string) string {
	if claims := auth.GetClaims(r); claims != nil && claims.Subject != "" {
		return claims.Subject
	}
	return bodyID
}

func escalationID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// writeEscalationError maps review-queue errors onto HTTP statuses.
// Lifecycle violations (claim conflicts, responding without a claim,
// closing without a response) surface as 409.
func writeEscalationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, escalation.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, escalation.ErrClaimConflict),
		errors.Is(err, escalation.ErrNotClaimed),
		errors.Is(err, escalation.ErrNotResponded),
		errors.Is(err, escalation.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

type escalationListResponse struct {
	Escalations []*escalation.Escalation `json:"escalations"`
	Total       int                      `json:"total"`
}

func (s *Server) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	if s.escalations == nil {
		writeError(w, http.StatusNotImplemented, "escalations are not configured")
		return
	}

	q := r.URL.Query()
	f := escalation.Filter{
		Status:    escalation.Status(q.Get("status")),
		ChannelID: q.Get("channel"),
		UserID:    q.Get("user"),
		StaffID:   q.Get("staff"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit: "+raw)
			return
		}
		f.Limit = limit
	}

	escs, err := s.escalations.List(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, escalationListResponse{Escalations: escs, Total: len(escs)})
}

func (s *Server) handleEscalationCounts(w http.ResponseWriter, r *http.Request) {
	if s.escalations == nil {
		writeError(w, http.StatusNotImplemented, "escalations are not configured")
		return
	}

	counts, err := s.escalations.Counts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleGetEscalation(w http.ResponseWriter, r *http.Request) {
	if s.escalations == nil {
		writeError(w, http.StatusNotImplemented, "escalations are not configured")
		return
	}
	id, ok := escalationID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid escalation id")
		return
	}

	esc, err := s.escalations.GetByID(r.Context(), id)
	if err != nil {
		writeEscalationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}

type claimRequest struct {
	StaffID string `json:"staff_id,omitempty"`
}

func (s *Server) handleClaimEscalation(w http.ResponseWriter, r *http.Request) {
	if s.escalations == nil {
		writeError(w, http.StatusNotImplemented, "escalations are not configured")
		return
	}
	id, ok := escalationID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid escalation id")
		return
	}

	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	staff := staffID(r, req.StaffID)
	if staff == "" {
		writeError(w, http.StatusBadRequest, "staff id is required")
		return
	}

	esc, err := s.escalations.Claim(r.Context(), id, staff)
	if err != nil {
		writeEscalationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}

type respondRequest struct {
	Answer  string `json:"answer"`
	StaffID string `json:"staff_id,omitempty"`
}

func (s *Server) handleRespondEscalation(w http.ResponseWriter, r *http.Request) {
	if s.escalations == nil {
		writeError(w, http.StatusNotImplemented, "escalations are not configured")
		return
	}
	id, ok := escalationID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid escalation id")
		return
	}

	var req respondRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Answer) == "" {
		writeError(w, http.StatusBadRequest, "answer is required")
		return
	}
	staff := staffID(r, req.StaffID)
	if staff == "" {
		writeError(w, http.StatusBadRequest, "staff id is required")
		return
	}

	esc, err := s.escalations.Respond(r.Context(), id, staff, req.Answer)
	if err != nil {
		writeEscalationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}

func (s *Server) handleCloseEscalation(w http.ResponseWriter, r *http.Request) {
	if s.escalations == nil {
		writeError(w, http.StatusNotImplemented, "escalations are not configured")
		return
	}
	id, ok := escalationID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid escalation id")
		return
	}

	esc, err := s.escalations.Close(r.Context(), id)
	if err != nil {
		writeEscalationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}

type escalationFAQRequest struct {
	Question string `json:"question,omitempty"`
	Answer   string `json:"answer,omitempty"`
	Category string `json:"category,omitempty"`
	Protocol string `json:"protocol,omitempty"`
}

// handleEscalationFAQ promotes a resolved escalation into a verified
// FAQ entry. Blank question/answer fall back to the escalation's.
func (s *Server) handleEscalationFAQ(w http.ResponseWriter, r *http.Request) {
	if s.escalations == nil {
		writeError(w, http.StatusNotImplemented, "escalations are not configured")
		return
	}
	id, ok := escalationID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid escalation id")
		return
	}

	var req escalationFAQRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.escalations.GenerateFAQ(r.Context(), id, req.Question, req.Answer, req.Category, req.Protocol)
	if err != nil {
		writeEscalationError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type faqListResponse struct {
	FAQs  []faq.FAQ `json:"faqs"`
	Total int       `json:"total"`
}

func (s *Server) handleListFAQs(w http.ResponseWriter, r *http.Request) {
	if s.faqs == nil {
		writeError(w, http.StatusNotImplemented, "faq store is not configured")
		return
	}

	var faqs []faq.FAQ
	if r.URL.Query().Get("verified") == "true" {
		faqs = s.faqs.Verified()
	} else {
		faqs = s.faqs.All()
	}
	writeJSON(w, http.StatusOK, faqListResponse{FAQs: faqs, Total: len(faqs)})
}

func (s *Server) handleCreateFAQ(w http.ResponseWriter, r *http.Request) {
	if s.faqs == nil {
		writeError(w, http.StatusNotImplemented, "faq store is not configured")
		return
	}

	var entry faq.FAQ
	if err := decodeBody(r, &entry); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := s.faqs.Create(entry)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetFAQ(w http.ResponseWriter, r *http.Request) {
	if s.faqs == nil {
		writeError(w, http.StatusNotImplemented, "faq store is not configured")
		return
	}

	entry, ok := s.faqs.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "faq not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type faqUpdateRequest struct {
	Question *string `json:"question,omitempty"`
	Answer   *string `json:"answer,omitempty"`
	Category *string `json:"category,omitempty"`
	Protocol *string `json:"protocol,omitempty"`
}

func (s *Server) handleUpdateFAQ(w http.ResponseWriter, r *http.Request) {
	if s.faqs == nil {
		writeError(w, http.StatusNotImplemented, "faq store is not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if _, ok := s.faqs.Get(id); !ok {
		writeError(w, http.StatusNotFound, "faq not found")
		return
	}

	var req faqUpdateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := s.faqs.Update(id, faq.Updates{
		Question: req.Question,
		Answer:   req.Answer,
		Category: req.Category,
		Protocol: req.Protocol,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type faqVerifyRequest struct {
	Verified *bool `json:"verified,omitempty"`
}

func (s *Server) handleVerifyFAQ(w http.ResponseWriter, r *http.Request) {
	if s.faqs == nil {
		writeError(w, http.StatusNotImplemented, "faq store is not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if _, ok := s.faqs.Get(id); !ok {
		writeError(w, http.StatusNotFound, "faq not found")
		return
	}

	var req faqVerifyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	verified := true
	if req.Verified != nil {
		verified = *req.Verified
	}

	entry, err := s.faqs.SetVerified(id, verified)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleDeleteFAQ(w http.ResponseWriter, r *http.Request) {
	if s.faqs == nil {
		writeError(w, http.StatusNotImplemented, "faq store is not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if _, ok := s.faqs.Get(id); !ok {
		writeError(w, http.StatusNotFound, "faq not found")
		return
	}

	if err := s.faqs.Delete(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
