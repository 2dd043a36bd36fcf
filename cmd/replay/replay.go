package main

import (
	"context"
	"log/slog"
	"sync"

	"triplog/tracker-server/internal/admission"
	"triplog/tracker-server/internal/config"
	"triplog/tracker-server/internal/ingest"
	"triplog/tracker-server/internal/model"
	"triplog/tracker-server/internal/phantom"
	"triplog/tracker-server/internal/session"
)

type deviceReport struct {
	StoredPoints  int             `json:"stored_points"`
	CleanedPoints int             `json:"cleaned_points"`
	Stops         int             `json:"stops"`
	Sessions      []model.Session `json:"sessions"`
}

type report struct {
	Fixes    int                      `json:"fixes"`
	Stored   int                      `json:"stored"`
	Rejected int                      `json:"rejected"`
	Failed   int                      `json:"failed"`
	Outcomes map[string]int           `json:"outcomes"`
	Devices  map[string]*deviceReport `json:"devices"`
}

// memoryPoints keeps admitted points per device. Like the points table, a
// second point with the same device and timestamp replaces the first.
type memoryPoints struct {
	mu     sync.Mutex
	points map[string][]model.StoredPoint
	index  map[string]map[int64]int
}

func newMemoryPoints() *memoryPoints {
	return &memoryPoints{
		points: make(map[string][]model.StoredPoint),
		index:  make(map[string]map[int64]int),
	}
}

func (m *memoryPoints) InsertPoint(_ context.Context, p model.StoredPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.index[p.DeviceID]
	if !ok {
		idx = make(map[int64]int)
		m.index[p.DeviceID] = idx
	}
	if i, ok := idx[p.Timestamp]; ok {
		m.points[p.DeviceID][i] = p
		return nil
	}
	idx[p.Timestamp] = len(m.points[p.DeviceID])
	m.points[p.DeviceID] = append(m.points[p.DeviceID], p)
	return nil
}

func replay(ctx context.Context, p config.Pipeline, data []byte, logger *slog.Logger) (report, error) {
	fixes, err := model.DecodeFixes(data)
	if err != nil {
		return report{}, err
	}

	// File order is arrival order.
	mem := newMemoryPoints()
	svc := ingest.NewService(admission.NewFilter(p.Admission), mem, logger)
	batch := svc.ProcessBatch(ctx, fixes)

	rep := report{
		Fixes:    len(fixes),
		Stored:   batch.Stored,
		Rejected: batch.Rejected,
		Failed:   batch.Failed,
		Outcomes: make(map[string]int),
		Devices:  make(map[string]*deviceReport),
	}
	for _, res := range batch.Results {
		if res.Error != "" {
			rep.Outcomes["error"]++
			continue
		}
		rep.Outcomes[string(res.Outcome)]++
	}

	cleaner := phantom.NewCleaner(p.Phantom)
	segmenter := session.NewSegmenter(p.Session)
	for device, points := range mem.points {
		dr := &deviceReport{StoredPoints: len(points)}
		if p.Session.ApplyPhantomCleanup {
			points = cleaner.Clean(points)
		}
		dr.CleanedPoints = len(points)
		for _, pt := range points {
			if pt.SegmentType.IsStop() {
				dr.Stops++
			}
		}
		dr.Sessions = segmenter.Segment(device, points, nil)
		if dr.Sessions == nil {
			dr.Sessions = []model.Session{}
		}
		rep.Devices[device] = dr
	}
	return rep, nil
}
