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
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/peerex/hermod/pkg/channel/webchat"
	"github.com/peerex/hermod/pkg/gateway"
	"github.com/peerex/hermod/pkg/message"
)

// acceptedResponse acknowledges a message whose answer is delivered out
// of band (callback URL) or not at all (duplicate, handled by a hook).
type acceptedResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
}

// handleWebchatMessage is the gateway entry for web-chat widgets.
//
// Requests without a callback URL block until dispatch completes and
// receive the delivered message inline: the generated answer, or the
// queued-for-review notice when routing suppressed the draft. Requests
// with a callback URL are acknowledged with 202 and answered via POST
// to the callback.
func (s *Server) handleWebchatMessage(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channel")
	plugin, ok := s.webchats[channelID]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown channel: "+channelID)
		return
	}

	var req webchat.InboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	in := plugin.Normalize(&req)

	// The channel auth hook validates the bearer token when the
	// instance requires it.
	if header := r.Header.Get("Authorization"); header != "" {
		if token := strings.TrimPrefix(header, "Bearer "); token != header {
			in.User.AuthToken = token
		}
	}

	var waiter <-chan *message.Outgoing
	if in.ChannelMetadata["inline_token"] != "" {
		waiter = plugin.RegisterWaiter(in.MessageID)
		defer plugin.ReleaseWaiter(in.MessageID)
	}

	out, err := s.processor.ProcessMessage(r.Context(), in)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	if out != nil {
		s.dispatcher.Dispatch(r.Context(), in, out)
	}

	// Dispatch is synchronous, so an inline delivery is already
	// buffered by the time it returns. A nil answer may still have
	// produced one: the follow-up capture hook acknowledges through
	// the plugin itself.
	writeDelivered(w, waiter, in.MessageID)
}

// writeDelivered returns the inline-delivered message when one is
// buffered, otherwise acknowledges with 202.
func writeDelivered(w http.ResponseWriter, waiter <-chan *message.Outgoing, messageID string) {
	if waiter != nil {
		select {
		case delivered := <-waiter:
			writeJSON(w, http.StatusOK, delivered)
			return
		default:
		}
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted", MessageID: messageID})
}

// writeGatewayError maps classified gateway failures onto HTTP statuses.
func writeGatewayError(w http.ResponseWriter, err error) {
	gerr := gateway.AsError(err)
	writeJSON(w, gerr.HTTPStatus(), errorResponse{
		Error: gerr.Message,
		Code:  string(gerr.Code),
	})
}
