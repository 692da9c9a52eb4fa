package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/vidgrab/internal/api/models"
	"github.com/smazurov/vidgrab/internal/capture"
	"github.com/smazurov/vidgrab/internal/metrics"
)

func (s *Server) registerSessionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/api/session",
		Summary:     "Session status",
		Description: "Negotiated format, buffer pool and capture counters of the session",
		Tags:        []string{"session"},
		Security:    withAuth(),
		Errors:      []int{401, 503},
	}, func(_ context.Context, _ *struct{}) (*models.SessionResponse, error) {
		sess, err := s.session()
		if err != nil {
			return nil, err
		}
		return &models.SessionResponse{Body: sessionData(sess.Status())}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-formats",
		Method:      http.MethodGet,
		Path:        "/api/session/formats",
		Summary:     "Supported formats",
		Description: "Pixel formats and frame sizes the device advertised when it was opened",
		Tags:        []string{"session"},
		Security:    withAuth(),
		Errors:      []int{401, 503},
	}, func(_ context.Context, _ *struct{}) (*models.FormatsResponse, error) {
		sess, err := s.session()
		if err != nil {
			return nil, err
		}
		resp := &models.FormatsResponse{}
		resp.Body.DevicePath = sess.Path()
		resp.Body.Formats = []models.FormatData{}
		for _, f := range sess.Formats() {
			sizes := make([]string, 0, len(f.Sizes))
			for _, sz := range f.Sizes {
				sizes = append(sizes, sz.String())
			}
			resp.Body.Formats = append(resp.Body.Formats, models.FormatData{
				Code:        f.Code,
				FourCC:      f.FourCC,
				Description: f.Description,
				Emulated:    f.Emulated,
				Compressed:  f.Compressed,
				Sizes:       sizes,
			})
		}
		resp.Body.Count = len(resp.Body.Formats)
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-format",
		Method:      http.MethodPut,
		Path:        "/api/session/format",
		Summary:     "Negotiate format",
		Description: "Negotiate a new capture geometry. The driver may adjust it; the response carries the accepted values.",
		Tags:        []string{"session"},
		Security:    withAuth(),
		Errors:      []int{401, 409, 422, 503},
	}, func(_ context.Context, input *models.FormatRequest) (*models.FormatResponse, error) {
		sess, err := s.session()
		if err != nil {
			return nil, err
		}
		configure := sess.Configure
		if input.Body.Restart {
			configure = sess.Reconfigure
		}
		w, h, err := configure(input.Body.Width, input.Body.Height)
		if err != nil {
			return nil, captureError("Format negotiation failed", err)
		}
		if input.Body.FrameRate > 0 {
			if _, err := sess.SetFrameRate(input.Body.FrameRate); err != nil {
				return nil, captureError("Frame rate negotiation failed", err)
			}
		}
		res := models.FormatResultData{
			RequestedWidth:  input.Body.Width,
			RequestedHeight: input.Body.Height,
			Width:           w,
			Height:          h,
		}
		if n := sess.Status().Negotiated; n != nil {
			res.FrameRate = n.FrameRate
		}
		return &models.FormatResponse{Body: res}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "start-streaming",
		Method:      http.MethodPost,
		Path:        "/api/session/start",
		Summary:     "Start streaming",
		Tags:        []string{"session"},
		Security:    withAuth(),
		Errors:      []int{401, 409, 500, 503},
	}, func(_ context.Context, _ *struct{}) (*models.ActionResponse, error) {
		sess, err := s.session()
		if err != nil {
			return nil, err
		}
		if err := sess.StartStreaming(); err != nil {
			return nil, captureError("Failed to start streaming", err)
		}
		return &models.ActionResponse{
			Body: models.ActionData{State: string(capture.StateStreaming), Message: "Streaming started"},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "stop-streaming",
		Method:      http.MethodPost,
		Path:        "/api/session/stop",
		Summary:     "Stop streaming",
		Tags:        []string{"session"},
		Security:    withAuth(),
		Errors:      []int{401, 500, 503},
	}, func(_ context.Context, _ *struct{}) (*models.ActionResponse, error) {
		sess, err := s.session()
		if err != nil {
			return nil, err
		}
		if err := sess.StopStreaming(); err != nil {
			return nil, captureError("Failed to stop streaming", err)
		}
		return &models.ActionResponse{
			Body: models.ActionData{State: string(capture.StateStopped), Message: "Streaming stopped"},
		}, nil
	})
}

func (s *Server) session() (SessionController, error) {
	if s.options.Session == nil {
		return nil, huma.Error503ServiceUnavailable("No capture session")
	}
	return s.options.Session, nil
}

// captureError maps capture error codes to HTTP statuses.
func captureError(msg string, err error) error {
	switch capture.CodeOf(err) {
	case capture.ErrInvalidState:
		return huma.Error409Conflict(msg, err)
	case capture.ErrFormatNegotiation, capture.ErrBufferAllocation:
		return huma.Error422UnprocessableEntity(msg, err)
	case capture.ErrControl:
		if errors.Is(err, capture.ErrUnknownControl) {
			return huma.Error404NotFound(msg, err)
		}
		return huma.Error422UnprocessableEntity(msg, err)
	default:
		return huma.Error500InternalServerError(msg, err)
	}
}

func sessionData(st capture.Status) models.SessionData {
	d := models.SessionData{
		ID:         st.ID,
		DevicePath: st.Path,
		Driver:     st.Capabilities.Driver,
		Card:       st.Capabilities.Card,
		BusInfo:    st.Capabilities.BusInfo,
		State:      string(st.State),
		Live:       st.Live,
		Buffers:    len(st.Pool.Buffers),
		Frames:     st.Frames,
		LastError:  st.LastError,
	}
	if n := st.Negotiated; n != nil {
		d.Width, d.Height = n.Width, n.Height
		d.PixelFormat = n.FourCC()
		d.BytesPerLine = n.BytesPerLine
		d.FrameRate = n.FrameRate
	}
	if stats := metrics.GetCaptureStats(st.Path); stats != nil {
		d.Dropped = stats.Dropped
		d.Faults = stats.Faults
		if !stats.LastFrameAt.IsZero() {
			at := stats.LastFrameAt.Truncate(time.Millisecond)
			d.LastFrameAt = &at
		}
	}
	return d
}
