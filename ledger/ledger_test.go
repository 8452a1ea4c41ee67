package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/harmlens/harmlens/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testRecord struct {
	Kind  string `json:"kind"`
	Score int    `json:"score"`
}

func testLedger(t *testing.T) (*Ledger, *gorm.DB) {
	db := store.TestingDB(t)
	l, err := New(db, nil)
	require.NoError(t, err)
	return l, db
}

func appendN(t *testing.T, l *Ledger, n int) []*Block {
	ctx := context.Background()
	out := []*Block{}
	for i := range n {
		blk, err := l.Append(ctx, fmt.Sprintf("content-%d", i), testRecord{Kind: "decision", Score: 10 + i})
		require.NoError(t, err)
		out = append(out, blk)
	}
	return out
}

// rewrites block k's payload and recomputes only block k's hash
func tamper(t *testing.T, db *gorm.DB, seq int64) {
	var blk Block
	require.NoError(t, db.Where("seq = ?", seq).Take(&blk).Error)
	idx := strings.Index(blk.Payload, `"kind":"`) + len(`"kind":"`)
	b := []byte(blk.Payload)
	b[idx] ^= 0x01
	blk.Payload = string(b)
	h, err := ComputeHash(&blk)
	require.NoError(t, err)
	require.NoError(t, db.Model(&Block{}).Where("seq = ?", seq).Updates(map[string]any{"payload": blk.Payload, "hash": h}).Error)
}

func TestAppendChain(t *testing.T) {
	assert := assert.New(t)
	l, _ := testLedger(t)

	blocks := appendN(t, l, 5)
	assert.Equal(int64(0), blocks[0].Seq)
	assert.Equal(GenesisHash, blocks[0].PrevHash)
	assert.Len(blocks[0].Hash, 64)
	for i := 1; i < len(blocks); i++ {
		assert.Equal(int64(i), blocks[i].Seq)
		assert.Equal(blocks[i-1].Hash, blocks[i].PrevHash)
	}

	n, err := l.Len(context.Background())
	assert.NoError(err)
	assert.Equal(int64(5), n)

	head, err := l.Head(context.Background())
	assert.NoError(err)
	assert.Equal(blocks[4].Hash, head.Hash)
}

func TestHashIsReproducible(t *testing.T) {
	assert := assert.New(t)
	l, _ := testLedger(t)
	ctx := context.Background()

	blk, err := l.Append(ctx, "c1", map[string]any{"z": 1, "a": map[string]any{"y": 2.5, "b": "x"}})
	assert.NoError(err)
	assert.Equal(`{"a":{"b":"x","y":2.5},"z":1}`, blk.Payload)

	got, err := l.Get(ctx, "c1")
	assert.NoError(err)
	h, err := ComputeHash(got)
	assert.NoError(err)
	assert.Equal(blk.Hash, h)

	// changing any field changes the digest
	mod := *got
	mod.ContentID = "c2"
	h2, err := ComputeHash(&mod)
	assert.NoError(err)
	assert.NotEqual(h, h2)
}

func TestCanonicalize(t *testing.T) {
	assert := assert.New(t)

	a, err := Canonicalize(map[string]any{"b": 1, "a": []any{3, 2}})
	assert.NoError(err)
	b, err := Canonicalize(struct {
		B int   `json:"b"`
		A []int `json:"a"`
	}{1, []int{3, 2}})
	assert.NoError(err)
	assert.Equal(string(a), string(b))
	assert.Equal(`{"a":[3,2],"b":1}`, string(a))
}

func TestGetAndHistory(t *testing.T) {
	assert := assert.New(t)
	l, _ := testLedger(t)
	ctx := context.Background()

	_, err := l.Get(ctx, "c1")
	assert.True(errors.Is(err, store.ErrNotFound))
	_, err = l.History(ctx, "c1")
	assert.True(errors.Is(err, store.ErrNotFound))

	_, err = l.Append(ctx, "c1", testRecord{Kind: "decision", Score: 80})
	assert.NoError(err)
	_, err = l.Append(ctx, "c2", testRecord{Kind: "decision", Score: 20})
	assert.NoError(err)
	_, err = l.Append(ctx, "c1", testRecord{Kind: "review", Score: 80})
	assert.NoError(err)

	latest, err := l.Get(ctx, "c1")
	assert.NoError(err)
	assert.Equal(int64(2), latest.Seq)
	var rec testRecord
	assert.NoError(latest.Decode(&rec))
	assert.Equal("review", rec.Kind)

	hist, err := l.History(ctx, "c1")
	assert.NoError(err)
	assert.Len(hist, 2)
	assert.Equal(int64(0), hist[0].Seq)
	assert.Equal(int64(2), hist[1].Seq)
}

func TestVerifyIntact(t *testing.T) {
	assert := assert.New(t)
	l, _ := testLedger(t)
	ctx := context.Background()

	appendN(t, l, 8)
	for i := range 8 {
		v, err := l.Verify(ctx, fmt.Sprintf("content-%d", i))
		assert.NoError(err)
		assert.True(v.Valid)
		assert.Nil(v.Violation)
		assert.Equal(int64(i+1), v.BlocksChecked)
	}

	v, err := l.VerifyChain(ctx)
	assert.NoError(err)
	assert.True(v.Valid)
	assert.Equal(int64(7), v.TargetSeq)

	_, err = l.Verify(ctx, "unknown")
	assert.True(errors.Is(err, store.ErrNotFound))
}

func TestVerifyEmptyChain(t *testing.T) {
	assert := assert.New(t)
	l, _ := testLedger(t)

	v, err := l.VerifyChain(context.Background())
	assert.NoError(err)
	assert.True(v.Valid)
}

func TestVerifyDetectsTampering(t *testing.T) {
	ctx := context.Background()

	const n = 8
	for k := range n - 1 {
		t.Run(fmt.Sprintf("block-%d", k), func(t *testing.T) {
			assert := assert.New(t)
			l, db := testLedger(t)
			appendN(t, l, n)
			tamper(t, db, int64(k))

			for j := range n {
				v, err := l.Verify(ctx, fmt.Sprintf("content-%d", j))
				assert.NoError(err)
				if j < k {
					assert.True(v.Valid, "block %d before tampered block %d", j, k)
				} else {
					assert.False(v.Valid, "block %d at or after tampered block %d", j, k)
					assert.NotNil(v.Violation)
				}
			}

			v, err := l.VerifyChain(ctx)
			assert.NoError(err)
			assert.False(v.Valid)
			assert.Equal(int64(k+1), v.Violation.Seq)
		})
	}
}

func TestVerifyDetectsEditWithoutRehash(t *testing.T) {
	assert := assert.New(t)
	l, db := testLedger(t)
	ctx := context.Background()

	appendN(t, l, 4)
	require.NoError(t, db.Model(&Block{}).Where("seq = ?", 3).Update("content_id", "someone-else").Error)

	v, err := l.VerifyChain(ctx)
	assert.NoError(err)
	assert.False(v.Valid)
	assert.Equal(int64(3), v.Violation.Seq)
}

func TestVerifyDetectsDeletedBlock(t *testing.T) {
	assert := assert.New(t)
	l, db := testLedger(t)
	ctx := context.Background()

	appendN(t, l, 5)
	require.NoError(t, db.Where("seq = ?", 2).Delete(&Block{}).Error)

	v, err := l.Verify(ctx, "content-4")
	assert.NoError(err)
	assert.False(v.Valid)
	assert.Equal(int64(2), v.Violation.Seq)

	v, err = l.Verify(ctx, "content-1")
	assert.NoError(err)
	assert.False(v.Valid)
}

func TestAppendWithRollsBack(t *testing.T) {
	assert := assert.New(t)
	l, db := testLedger(t)
	ctx := context.Background()

	type sideRow struct {
		ID   uint `gorm:"primarykey"`
		Name string
	}
	require.NoError(t, db.AutoMigrate(&sideRow{}))

	boom := errors.New("boom")
	_, err := l.AppendWith(ctx, "c1", func(tx *gorm.DB) (any, error) {
		if err := tx.Create(&sideRow{Name: "x"}).Error; err != nil {
			return nil, err
		}
		return nil, boom
	})
	assert.True(errors.Is(err, boom))

	var count int64
	db.Model(&sideRow{}).Count(&count)
	assert.Equal(int64(0), count)
	n, _ := l.Len(ctx)
	assert.Equal(int64(0), n)

	// nil payload commits side effects without a block
	blk, err := l.AppendWith(ctx, "c1", func(tx *gorm.DB) (any, error) {
		return nil, tx.Create(&sideRow{Name: "y"}).Error
	})
	assert.NoError(err)
	assert.Nil(blk)
	db.Model(&sideRow{}).Count(&count)
	assert.Equal(int64(1), count)
	n, _ = l.Len(ctx)
	assert.Equal(int64(0), n)

	_, err = l.Append(ctx, "", testRecord{})
	assert.Error(err)
}

func TestConcurrentAppends(t *testing.T) {
	assert := assert.New(t)
	l, _ := testLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Append(ctx, fmt.Sprintf("c-%d", i%7), testRecord{Kind: "decision", Score: i})
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(err)
	}

	n, err := l.Len(ctx)
	assert.NoError(err)
	assert.Equal(int64(64), n)

	v, err := l.VerifyChain(ctx)
	assert.NoError(err)
	assert.True(v.Valid)
	assert.Equal(int64(63), v.TargetSeq)
}

func TestBlockJSON(t *testing.T) {
	assert := assert.New(t)
	l, _ := testLedger(t)

	blk, err := l.Append(context.Background(), "c1", testRecord{Kind: "decision", Score: 3})
	assert.NoError(err)

	out, err := blk.MarshalJSON()
	assert.NoError(err)
	assert.Contains(string(out), `"payload":{"kind":"decision","score":3}`)
	assert.Contains(string(out), `"sequence_number":0`)
	assert.Contains(string(out), `"previous_hash":"`+GenesisHash+`"`)
}
