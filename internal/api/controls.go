package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/vidgrab/internal/api/models"
	"github.com/smazurov/vidgrab/internal/capture"
)

func (s *Server) registerControlRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-frame-intervals",
		Method:      http.MethodGet,
		Path:        "/api/session/intervals",
		Summary:     "Frame intervals",
		Description: "Frame intervals the device offers at the negotiated format",
		Tags:        []string{"session"},
		Security:    withAuth(),
		Errors:      []int{401, 409, 500, 503},
	}, func(_ context.Context, _ *struct{}) (*models.FrameIntervalsResponse, error) {
		sess, err := s.session()
		if err != nil {
			return nil, err
		}
		ivs, err := sess.FrameIntervals()
		if err != nil {
			return nil, captureError("Failed to list frame intervals", err)
		}
		resp := &models.FrameIntervalsResponse{}
		resp.Body.Intervals = make([]string, 0, len(ivs))
		for _, iv := range ivs {
			resp.Body.Intervals = append(resp.Body.Intervals, iv.String())
		}
		if n := sess.Status().Negotiated; n != nil {
			resp.Body.Width, resp.Body.Height = n.Width, n.Height
			resp.Body.FrameRate = n.FrameRate
		}
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-controls",
		Method:      http.MethodGet,
		Path:        "/api/session/controls",
		Summary:     "Device controls",
		Description: "User controls of the device with their current values",
		Tags:        []string{"controls"},
		Security:    withAuth(),
		Errors:      []int{401, 409, 500, 503},
	}, func(_ context.Context, _ *struct{}) (*models.ControlsResponse, error) {
		sess, err := s.session()
		if err != nil {
			return nil, err
		}
		ctrls, err := sess.Controls()
		if err != nil {
			return nil, captureError("Failed to list controls", err)
		}
		resp := &models.ControlsResponse{}
		resp.Body.Controls = make([]models.ControlData, 0, len(ctrls))
		for _, c := range ctrls {
			resp.Body.Controls = append(resp.Body.Controls, controlData(c))
		}
		resp.Body.Count = len(resp.Body.Controls)
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-control",
		Method:      http.MethodGet,
		Path:        "/api/session/controls/{control}",
		Summary:     "Get control",
		Tags:        []string{"controls"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 409, 500, 503},
	}, func(_ context.Context, input *models.ControlGetRequest) (*models.ControlResponse, error) {
		sess, err := s.session()
		if err != nil {
			return nil, err
		}
		c, err := sess.Control(input.Control)
		if err != nil {
			return nil, captureError("Failed to read control", err)
		}
		return &models.ControlResponse{Body: controlData(c)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-control",
		Method:      http.MethodPut,
		Path:        "/api/session/controls/{control}",
		Summary:     "Set control",
		Description: "Set a control while streaming or stopped. The response carries the value the driver kept.",
		Tags:        []string{"controls"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 409, 422, 503},
	}, func(_ context.Context, input *models.ControlRequest) (*models.ControlResponse, error) {
		sess, err := s.session()
		if err != nil {
			return nil, err
		}
		c, err := sess.SetControl(input.Control, input.Body.Value)
		if err != nil {
			return nil, captureError("Failed to set control", err)
		}
		return &models.ControlResponse{Body: controlData(c)}, nil
	})
}

func controlData(c capture.Control) models.ControlData {
	return models.ControlData{
		ID:       c.ID,
		Key:      c.Key,
		Name:     c.Name,
		Type:     c.Type,
		Min:      c.Min,
		Max:      c.Max,
		Step:     c.Step,
		Default:  c.Default,
		Value:    c.Value,
		ReadOnly: c.ReadOnly,
		Inactive: c.Inactive,
	}
}
