package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/tandemloop/tandem/internal/bridge"
	"github.com/tandemloop/tandem/internal/exchange"
)

// ErrBacklogEmpty ends explore mode when no proposals exist and the
// agents produce none within the selection timeout.
var ErrBacklogEmpty = errors.New("backlog is empty")

// RunBacklog works the shared proposal backlog until it runs dry or a
// task is abandoned. The agents swap initiator and reviewer roles
// between tasks so neither only writes or only reviews.
func (s *Supervisor) RunBacklog(ctx context.Context) error {
	log := s.log.WithPhase("backlog")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		proposal, err := s.nextProposal(ctx)
		if err != nil {
			if errors.Is(err, ErrBacklogEmpty) {
				log.Info("backlog exhausted", "worked", s.state.Snapshot().ProposalsWorked)
				return nil
			}
			return err
		}

		task := proposal.Title
		if proposal.Reason != "" {
			task = fmt.Sprintf("%s (context: %s)", proposal.Title, proposal.Reason)
		}
		log.Info("working proposal",
			"title", proposal.Title,
			"priority", proposal.Priority.String(),
			"initiator", s.initiator.Label,
		)

		phase, err := s.RunTask(ctx, task)
		if err != nil {
			return err
		}
		if phase != bridge.PhaseConsensus {
			return fmt.Errorf("proposal %q ended in %s", proposal.Title, phase)
		}
		s.state.AddProposalWorked()

		if err := s.dir.RemoveProposal(proposal.Title); err != nil {
			log.Warn("removing worked proposal failed", "title", proposal.Title, "error", err.Error())
		}
		s.initiator, s.reviewer = s.reviewer, s.initiator
	}
}

// nextProposal picks the highest-priority backlog entry. With an empty
// backlog it gives the current initiator one bounded chance to surface
// new proposals before explore mode ends.
func (s *Supervisor) nextProposal(ctx context.Context) (exchange.Proposal, error) {
	if proposals := s.dir.ReadProposals(); len(proposals) > 0 {
		return proposals[0], nil
	}

	path := s.dir.ProposalsPath()
	baseline := s.now()
	ask := fmt.Sprintf(
		"The task backlog is empty. Look over the workspace for worthwhile follow-up work and "+
			"append each idea to %s as three lines: PROPOSAL: <title>, REASON: <why>, "+
			"PRIORITY: HIGH|MEDIUM|LOW. If you find nothing worth doing, say so and write nothing.",
		path,
	)
	if err := s.initiator.Instruct(ask); err != nil {
		return exchange.Proposal{}, err
	}

	err := exchange.WaitFresh(ctx, path, baseline, s.cfg.Turn.SelectTimeout, s.cfg.Poll.Interval, func() {
		s.servicePrompts(s.initiator)
		s.servicePrompts(s.reviewer)
	})
	if err != nil {
		if errors.Is(err, exchange.ErrWaitTimeout) {
			return exchange.Proposal{}, ErrBacklogEmpty
		}
		return exchange.Proposal{}, err
	}

	proposals := s.dir.ReadProposals()
	if len(proposals) == 0 {
		return exchange.Proposal{}, ErrBacklogEmpty
	}
	return proposals[0], nil
}
