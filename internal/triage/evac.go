package triage

import (
	"context"
	"fmt"
)

// StartEvacuation moves a casualty to IN_PROGRESS. The evacuation record is
// created with the default NEEDED status if it does not exist yet, then
// transitioned. Rejected (not an error) when evacuation is already in
// progress or done.
func (s *Service) StartEvacuation(ctx context.Context, devEUI, team string) (*TransitionResult, error) {
	res := &TransitionResult{}
	e, err := s.store.MutateEvacuation(ctx, devEUI, func(e *Evacuation) {
		switch e.Status {
		case EvacInProgress:
			res.Reason = "evacuation already in progress"
		case EvacEvacuated:
			res.Reason = "casualty already evacuated"
		default:
			now := s.now().UTC()
			e.Status = EvacInProgress
			e.StartedAt = &now
			if team != "" {
				e.Team = team
			}
			res.Applied = true
		}
	})
	if err != nil {
		return nil, fmt.Errorf("start evacuation for %s: %w", devEUI, err)
	}
	res.Evacuation = e
	s.finishTransition(ctx, "start", devEUI, res)
	return res, nil
}

// CompleteEvacuation moves a casualty from IN_PROGRESS to EVACUATED.
// Rejected from any other state, including when no record exists.
func (s *Service) CompleteEvacuation(ctx context.Context, devEUI string) (*TransitionResult, error) {
	return s.transitionInProgress(ctx, "complete", devEUI, func(e *Evacuation) {
		now := s.now().UTC()
		e.Status = EvacEvacuated
		e.CompletedAt = &now
	})
}

// CancelEvacuation reverts an in-progress evacuation to NEEDED and clears
// the start time. Rejected from any other state.
func (s *Service) CancelEvacuation(ctx context.Context, devEUI string) (*TransitionResult, error) {
	return s.transitionInProgress(ctx, "cancel", devEUI, func(e *Evacuation) {
		e.Status = EvacNeeded
		e.StartedAt = nil
	})
}

// transitionInProgress applies a transition allowed only from IN_PROGRESS.
// A missing record is rejected without creating one.
func (s *Service) transitionInProgress(ctx context.Context, op, devEUI string, apply func(*Evacuation)) (*TransitionResult, error) {
	_, ok, err := s.store.GetEvacuation(ctx, devEUI)
	if err != nil {
		return nil, fmt.Errorf("%s evacuation for %s: %w", op, devEUI, err)
	}
	if !ok {
		res := &TransitionResult{Reason: "no evacuation in progress"}
		s.finishTransition(ctx, op, devEUI, res)
		return res, nil
	}

	res := &TransitionResult{}
	e, err := s.store.MutateEvacuation(ctx, devEUI, func(e *Evacuation) {
		if e.Status != EvacInProgress {
			res.Reason = fmt.Sprintf("evacuation is %s, not %s", e.Status, EvacInProgress)
			return
		}
		apply(e)
		res.Applied = true
	})
	if err != nil {
		return nil, fmt.Errorf("%s evacuation for %s: %w", op, devEUI, err)
	}
	res.Evacuation = e
	s.finishTransition(ctx, op, devEUI, res)
	return res, nil
}

// SetEvacuationPriority stores a caller-assigned priority. The state machine
// never derives this value.
func (s *Service) SetEvacuationPriority(ctx context.Context, devEUI string, priority int) (*Evacuation, error) {
	e, err := s.store.MutateEvacuation(ctx, devEUI, func(e *Evacuation) {
		e.Priority = priority
	})
	if err != nil {
		return nil, fmt.Errorf("set priority for %s: %w", devEUI, err)
	}
	return e, nil
}

// Evacuation returns the casualty's evacuation record, if any.
func (s *Service) Evacuation(ctx context.Context, devEUI string) (*Evacuation, bool, error) {
	return s.store.GetEvacuation(ctx, devEUI)
}

func (s *Service) finishTransition(ctx context.Context, op, devEUI string, res *TransitionResult) {
	outcome := "applied"
	if !res.Applied {
		outcome = "rejected"
	}
	s.metrics.evacTransition(op, outcome)
	s.logger.Info(ctx, "evacuation transition",
		"op", op,
		"dev_eui", devEUI,
		"applied", res.Applied,
		"reason", res.Reason,
	)
}
