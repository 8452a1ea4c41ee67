package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/harmlens/harmlens/store"

	"gorm.io/gorm"
)

const verifyBatchSize = 500

// IntegrityViolation describes the first point at which the chain stopped checking out.
type IntegrityViolation struct {
	Seq    int64  `json:"sequence_number"`
	Reason string `json:"reason"`
}

func (v IntegrityViolation) String() string {
	return fmt.Sprintf("block %d: %s", v.Seq, v.Reason)
}

// Verification is the outcome of re-deriving the chain. A broken chain is reported here, not as an error.
type Verification struct {
	ContentID     string              `json:"content_id,omitempty"`
	Valid         bool                `json:"valid"`
	TargetSeq     int64               `json:"sequence_number"`
	TargetHash    string              `json:"hash"`
	BlocksChecked int64               `json:"blocks_checked"`
	Violation     *IntegrityViolation `json:"violation,omitempty"`
}

// Verify checks the latest block recorded for contentID: every digest and link from genesis through that
// block, plus the link from its successor when there is one. Tampering with an earlier block therefore
// invalidates every later block, even if the tampered block's own hash was recomputed.
func (l *Ledger) Verify(ctx context.Context, contentID string) (*Verification, error) {
	target, err := l.Get(ctx, contentID)
	if err != nil {
		return nil, err
	}
	res, err := l.verifyThrough(ctx, target)
	if err != nil {
		return nil, err
	}
	res.ContentID = contentID
	return res, nil
}

// VerifyChain checks the whole chain through the current head. An empty chain is valid.
func (l *Ledger) VerifyChain(ctx context.Context) (*Verification, error) {
	head, err := l.Head(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return &Verification{Valid: true, TargetSeq: -1}, nil
	}
	if err != nil {
		return nil, err
	}
	return l.verifyThrough(ctx, head)
}

func (l *Ledger) verifyThrough(ctx context.Context, target *Block) (*Verification, error) {
	res := &Verification{
		TargetSeq:  target.Seq,
		TargetHash: target.Hash,
	}
	fail := func(seq int64, reason string) (*Verification, error) {
		res.Valid = false
		res.Violation = &IntegrityViolation{Seq: seq, Reason: reason}
		verifyFailures.Inc()
		l.logger.Warn("audit chain integrity violation", "seq", seq, "reason", reason, "target", target.Seq)
		return res, nil
	}

	db := l.db.WithContext(ctx)
	expectSeq := int64(0)
	prevHash := GenesisHash
	lastSeq := int64(-1)
	for {
		var batch []Block
		err := db.Where("seq > ? AND seq <= ?", lastSeq, target.Seq).Order("seq asc").Limit(verifyBatchSize).Find(&batch).Error
		if err != nil {
			return nil, store.Classify("ledger verify", err)
		}
		if len(batch) == 0 {
			break
		}
		for i := range batch {
			blk := &batch[i]
			if blk.Seq != expectSeq {
				return fail(expectSeq, "missing block")
			}
			if blk.PrevHash != prevHash {
				return fail(blk.Seq, "previous hash does not match preceding block")
			}
			h, err := ComputeHash(blk)
			if err != nil {
				return fail(blk.Seq, err.Error())
			}
			if h != blk.Hash {
				return fail(blk.Seq, "stored hash does not match contents")
			}
			prevHash = blk.Hash
			expectSeq++
			res.BlocksChecked++
		}
		lastSeq = batch[len(batch)-1].Seq
	}
	if expectSeq != target.Seq+1 {
		return fail(expectSeq, "missing block")
	}
	// the stored target row must be the one we walked to
	if prevHash != target.Hash {
		return fail(target.Seq, "target block changed during verification")
	}

	var next Block
	err := db.Where("seq > ?", target.Seq).Order("seq asc").Limit(1).Take(&next).Error
	if err == nil {
		if next.Seq != target.Seq+1 {
			return fail(target.Seq+1, "missing block")
		}
		if next.PrevHash != target.Hash {
			return fail(next.Seq, "successor does not link to this block")
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.Classify("ledger verify", err)
	}

	res.Valid = true
	return res, nil
}
