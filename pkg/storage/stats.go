package storage

import (
	"context"
	"sort"

	"github.com/conveyorhq/conveyor/pkg/core"
)

// QueueStats returns per-queue record counts across the three tables.
func (s *GormStore) QueueStats(ctx context.Context) ([]core.QueueStat, error) {
	type row struct {
		Queue string
		Count int64
	}
	type statusRow struct {
		Queue  string
		Status string
		Count  int64
	}

	statsMap := make(map[string]*core.QueueStat)
	get := func(queue string) *core.QueueStat {
		qs, ok := statsMap[queue]
		if !ok {
			qs = &core.QueueStat{Queue: queue}
			statsMap[queue] = qs
		}
		return qs
	}

	var requests []row
	err := s.db.WithContext(ctx).
		Model(&core.JobRequest{}).
		Select("queue, count(*) as count").
		Group("queue").
		Find(&requests).Error
	if err != nil {
		return nil, err
	}
	for _, r := range requests {
		get(r.Queue).Requests = r.Count
	}

	var processes []row
	err = s.db.WithContext(ctx).
		Model(&core.JobProcess{}).
		Select("queue, count(*) as count").
		Group("queue").
		Find(&processes).Error
	if err != nil {
		return nil, err
	}
	for _, r := range processes {
		get(r.Queue).Processes = r.Count
	}

	var results []statusRow
	err = s.db.WithContext(ctx).
		Model(&core.JobResult{}).
		Select("queue, status, count(*) as count").
		Group("queue, status").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		qs := get(r.Queue)
		switch core.ResultStatus(r.Status) {
		case core.StatusSuccessful:
			qs.Successful += r.Count
		case core.StatusErrored:
			qs.Errored += r.Count
		case core.StatusCancelled:
			qs.Cancelled += r.Count
		case core.StatusDeferred:
			qs.Deferred += r.Count
		case core.StatusLost:
			qs.Lost += r.Count
		}
	}

	out := make([]core.QueueStat, 0, len(statsMap))
	for _, qs := range statsMap {
		out = append(out, *qs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Queue < out[j].Queue })
	return out, nil
}
