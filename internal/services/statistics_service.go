package services

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

const statisticsTimeout = 30 * time.Second

type StatisticsStore interface {
	SurveyReader
	ResponseLister
}

// StatisticsService serves per-question reports to survey owners. Concurrent
// requests for the same survey share one read and fold; nothing is kept once
// they return.
type StatisticsService struct {
	store    StatisticsStore
	sf       singleflight.Group
	observer func(surveyID string)
}

func NewStatisticsService(store StatisticsStore) *StatisticsService {
	return &StatisticsService{store: store, observer: func(string) {}}
}

// OnRequest registers a callback invoked for every served report.
func (s *StatisticsService) OnRequest(fn func(surveyID string)) {
	if fn != nil {
		s.observer = fn
	}
}

// GetStatistics aggregates surveyID for its owner. The shared read runs
// detached from any one caller, so a caller that goes away only stops its own
// wait. Each caller gets its own copy of the report.
func (s *StatisticsService) GetStatistics(ctx context.Context, ownerID, surveyID string) (*SurveyStatistics, error) {
	if _, err := loadOwnedSurvey(ctx, s.store, ownerID, surveyID); err != nil {
		return nil, err
	}
	ch := s.sf.DoChan(surveyID, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statisticsTimeout)
		defer cancel()
		// Re-read inside the flight so the report matches one snapshot.
		sv, err := s.store.GetSurvey(fctx, surveyID)
		if err != nil {
			return nil, err
		}
		if sv == nil {
			return nil, ErrSurveyNotFound
		}
		rs, err := s.store.ListResponses(fctx, surveyID)
		if err != nil {
			return nil, err
		}
		return Aggregate(sv, rs)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		s.observer(surveyID)
		return res.Val.(*SurveyStatistics).Clone(), nil
	}
}
