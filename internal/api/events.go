package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/vidgrab/internal/events"
)

// registerEventRoutes exposes session lifecycle events as Server-Sent
// Events. Frame data is never sent.
func (s *Server) registerEventRoutes() {
	if s.options.EventBus == nil {
		return
	}

	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Session events",
		Description: "Real-time stream of session lifecycle events, setting changes and capture faults",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"session-opened":     events.SessionOpenedEvent{},
		"format-negotiated":  events.FormatNegotiatedEvent{},
		"streaming-started":  events.StreamingStartedEvent{},
		"streaming-stopped":  events.StreamingStoppedEvent{},
		"capture-fault":      events.CaptureFaultEvent{},
		"session-closed":     events.SessionClosedEvent{},
		"control-changed":    events.ControlChangedEvent{},
		"frame-rate-changed": events.FrameRateChangedEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		ch := make(chan any, 16)
		unsubscribe := events.SubscribeAll(s.options.EventBus, ch)
		defer unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-ch:
				if err := send.Data(ev); err != nil {
					return
				}
			}
		}
	})
}
