package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harmlens/harmlens/store"

	"gorm.io/gorm"
)

// Ledger is a local, single-writer, hash-linked log of moderation records. All appends across all
// content ids are serialized, so each block's previous hash references the block immediately before it.
type Ledger struct {
	db     *gorm.DB
	logger *slog.Logger

	lk sync.Mutex

	// overridable in tests
	now func() time.Time
}

func New(db *gorm.DB, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&Block{}); err != nil {
		return nil, err
	}
	return &Ledger{
		db:     db,
		logger: logger.With("component", "ledger"),
		now:    time.Now,
	}, nil
}

// Append seals payload into a new block for contentID.
func (l *Ledger) Append(ctx context.Context, contentID string, payload any) (*Block, error) {
	return l.AppendWith(ctx, contentID, func(tx *gorm.DB) (any, error) {
		return payload, nil
	})
}

// AppendWith runs fn and the block insert in one database transaction. fn performs the caller's own writes
// using tx and returns the payload to record; a nil payload commits fn's writes without adding a block.
//
// fn must only use tx: with a single-connection database any other handle would block forever.
func (l *Ledger) AppendWith(ctx context.Context, contentID string, fn func(tx *gorm.DB) (any, error)) (*Block, error) {
	if contentID == "" {
		return nil, fmt.Errorf("ledger append: empty content id")
	}

	l.lk.Lock()
	defer l.lk.Unlock()

	var out *Block
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payload, err := fn(tx)
		if err != nil {
			return err
		}
		if payload == nil {
			return nil
		}
		body, err := Canonicalize(payload)
		if err != nil {
			return fmt.Errorf("serializing ledger payload: %w", err)
		}

		seq := int64(0)
		prevHash := GenesisHash
		var head Block
		err = tx.Order("seq desc").Limit(1).Take(&head).Error
		if err == nil {
			seq = head.Seq + 1
			prevHash = head.Hash
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		blk := Block{
			Seq:       seq,
			Timestamp: l.now().UTC().Format(time.RFC3339Nano),
			ContentID: contentID,
			Payload:   string(body),
			PrevHash:  prevHash,
		}
		if blk.Hash, err = ComputeHash(&blk); err != nil {
			return err
		}
		if err := tx.Create(&blk).Error; err != nil {
			return err
		}
		out = &blk
		return nil
	})
	if err != nil {
		return nil, store.Classify("ledger append", err)
	}
	if out != nil {
		blocksAppended.Inc()
		headSeq.Set(float64(out.Seq))
		l.logger.Debug("appended block", "seq", out.Seq, "content_id", contentID, "hash", out.Hash)
	}
	return out, nil
}

// Get returns the most recent block recorded for contentID.
func (l *Ledger) Get(ctx context.Context, contentID string) (*Block, error) {
	var blk Block
	err := l.db.WithContext(ctx).Where("content_id = ?", contentID).Order("seq desc").Limit(1).Take(&blk).Error
	if err != nil {
		return nil, store.Classify("ledger get", err)
	}
	return &blk, nil
}

// History returns every block recorded for contentID, oldest first.
func (l *Ledger) History(ctx context.Context, contentID string) ([]Block, error) {
	var blocks []Block
	if err := l.db.WithContext(ctx).Where("content_id = ?", contentID).Order("seq asc").Find(&blocks).Error; err != nil {
		return nil, store.Classify("ledger history", err)
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("ledger history: %w", store.ErrNotFound)
	}
	return blocks, nil
}

// Head returns the last block of the chain.
func (l *Ledger) Head(ctx context.Context) (*Block, error) {
	var blk Block
	if err := l.db.WithContext(ctx).Order("seq desc").Limit(1).Take(&blk).Error; err != nil {
		return nil, store.Classify("ledger head", err)
	}
	return &blk, nil
}

func (l *Ledger) Len(ctx context.Context) (int64, error) {
	var n int64
	if err := l.db.WithContext(ctx).Model(&Block{}).Count(&n).Error; err != nil {
		return 0, store.Classify("ledger count", err)
	}
	return n, nil
}
