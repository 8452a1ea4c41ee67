package pipeline

import (
	"context"

	"github.com/harmlens/harmlens/escalation"
)

type Stats struct {
	TotalAnalyzed  int64                       `json:"total_analyzed"`
	ByLabel        map[string]int64            `json:"by_label"`
	PendingByQueue map[string]int64            `json:"pending_by_queue"`
	Escalations    map[escalation.Status]int64 `json:"escalations"`
	LedgerBlocks   int64                       `json:"ledger_blocks"`
}

func (p *Pipeline) Stats(ctx context.Context) (*Stats, error) {
	byLabel, err := p.content.CountByLabel(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := p.queue.PendingCounts(ctx)
	if err != nil {
		return nil, err
	}
	escs, err := p.tracker.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	blocks, err := p.ledger.Len(ctx)
	if err != nil {
		return nil, err
	}

	st := &Stats{
		ByLabel:        byLabel,
		PendingByQueue: pending,
		Escalations:    escs,
		LedgerBlocks:   blocks,
	}
	for _, n := range byLabel {
		st.TotalAnalyzed += n
	}
	return st, nil
}
