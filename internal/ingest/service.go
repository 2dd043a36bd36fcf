// Package ingest runs incoming fixes through admission and persists the ones
// that are admitted.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"triplog/tracker-server/internal/admission"
	"triplog/tracker-server/internal/model"
)

// PointWriter persists admitted points.
type PointWriter interface {
	InsertPoint(ctx context.Context, p model.StoredPoint) error
}

// Result is the outcome of processing one fix.
type Result struct {
	DeviceID string `json:"device_id"`
	admission.Decision
	Error string `json:"error,omitempty"`
}

// BatchResult summarises a list of fixes processed in order.
type BatchResult struct {
	BatchID  string   `json:"batch_id"`
	Results  []Result `json:"results"`
	Stored   int      `json:"stored"`
	Rejected int      `json:"rejected"`
	Failed   int      `json:"failed"`
}

// Service owns the per-device admission state.
type Service struct {
	filter *admission.Filter
	states *admission.Registry
	points PointWriter
	logger *slog.Logger
}

// NewService wires a filter to a point writer.
func NewService(filter *admission.Filter, points PointWriter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		filter: filter,
		states: admission.NewRegistry(),
		points: points,
		logger: logger,
	}
}

// Process evaluates one fix against its device's state and stores it when
// admitted. The device state only advances once the store accepted the point.
func (s *Service) Process(ctx context.Context, fix model.Fix) (Result, error) {
	if err := fix.Validate(); err != nil {
		return Result{DeviceID: fix.DeviceID}, err
	}

	deviceID := fix.DeviceID
	if deviceID == "" {
		deviceID = model.DefaultDeviceID
	}
	res := Result{DeviceID: deviceID}

	var storeErr error
	s.states.Do(deviceID, func(state admission.State) (admission.State, bool) {
		d := s.filter.Evaluate(fix, state)
		res.Decision = d
		if !d.Admit {
			return d.State, true
		}

		if err := s.points.InsertPoint(ctx, *d.Record); err != nil {
			storeErr = fmt.Errorf("store point: %w: %w", model.ErrUpstreamUnavailable, err)
			return state, false
		}
		return d.State, true
	})

	if storeErr != nil {
		res.Error = storeErr.Error()
		return res, storeErr
	}

	if res.Admit {
		s.logger.Debug("fix admitted", "device", deviceID, "reason", res.Reason)
	} else {
		s.logger.Debug("fix rejected", "device", deviceID, "outcome", res.Outcome, "reason", res.Reason)
	}
	return res, nil
}

// ProcessBatch processes fixes in order. Failures are reported per fix and do
// not stop the batch.
func (s *Service) ProcessBatch(ctx context.Context, fixes []model.Fix) BatchResult {
	batch := BatchResult{
		BatchID: uuid.NewString(),
		Results: make([]Result, 0, len(fixes)),
	}

	for _, fix := range fixes {
		res, err := s.Process(ctx, fix)
		switch {
		case err != nil:
			res.Error = err.Error()
			batch.Failed++
			s.logger.Warn("fix failed", "batch", batch.BatchID, "device", res.DeviceID, "error", err)
		case res.Admit:
			batch.Stored++
		default:
			batch.Rejected++
		}
		batch.Results = append(batch.Results, res)
	}

	return batch
}

// Reset forgets the admission state of a device.
func (s *Service) Reset(deviceID string) {
	s.states.Reset(deviceID)
}

// Devices returns how many devices have admission state.
func (s *Service) Devices() int {
	return s.states.Len()
}
