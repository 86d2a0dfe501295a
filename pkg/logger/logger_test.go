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

package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    slog.Level
		wantErr bool
	}{
		{name: "debug", input: "debug", want: slog.LevelDebug},
		{name: "info", input: "info", want: slog.LevelInfo},
		{name: "warn", input: "warn", want: slog.LevelWarn},
		{name: "warning alias", input: "warning", want: slog.LevelWarn},
		{name: "error", input: "error", want: slog.LevelError},
		{name: "mixed case", input: "DeBuG", want: slog.LevelDebug},
		{name: "empty defaults to info", input: "", want: slog.LevelInfo},
		{name: "unknown", input: "loud", want: slog.LevelInfo, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSimpleTextHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	h := &simpleTextHandler{handler: base, writer: &buf}

	record := slog.NewRecord(time.Now(), slog.LevelInfo, "channel started", 0)
	record.AddAttrs(slog.String("channel", "web"))

	require.NoError(t, h.Handle(context.Background(), record))
	assert.Equal(t, "INFO channel started channel=web\n", buf.String())
}

func TestRedactingHandlerMasksConfiguredKeys(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	h := NewRedactingHandler(base, []string{"question", "answer"})

	logger := slog.New(h)
	logger.Info("processing",
		"channel", "web",
		"question", "how do I cancel a trade?",
	)

	out := buf.String()
	assert.Contains(t, out, "channel=web")
	assert.Contains(t, out, "question=[redacted]")
	assert.NotContains(t, out, "cancel a trade")
}

func TestRedactingHandlerCaseInsensitive(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	h := NewRedactingHandler(base, []string{"Answer"})

	slog.New(h).Info("done", "ANSWER", "secret text")

	assert.Contains(t, buf.String(), "ANSWER=[redacted]")
}

func TestRedactingHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	h := NewRedactingHandler(base, []string{"question"})

	logger := slog.New(h).With("question", "persistent secret")
	logger.Info("hello")

	assert.Contains(t, buf.String(), "question=[redacted]")
	assert.NotContains(t, buf.String(), "persistent secret")
}
