package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	slogGorm "github.com/orandin/slog-gorm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestOpenRejectsUnknownScheme(t *testing.T) {
	assert := assert.New(t)

	_, err := Open("mysql://localhost/db", 4)
	assert.Error(err)
}

func TestClassify(t *testing.T) {
	assert := assert.New(t)

	assert.NoError(Classify("op", nil))
	assert.True(errors.Is(Classify("op", gorm.ErrRecordNotFound), ErrNotFound))
	assert.True(errors.Is(Classify("op", gorm.ErrDuplicatedKey), ErrConflict))

	err := Classify("op", fmt.Errorf("disk I/O error"))
	assert.True(IsTransient(err))
	assert.ErrorContains(err, "disk I/O error")

	wrapped := fmt.Errorf("outer: %w", ErrConflict)
	assert.Equal(wrapped, Classify("op", wrapped))
}

func TestContentStore(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	cs, err := NewContentStore(TestingDB(t))
	require.NoError(err)

	row := &ContentAnalysis{
		ContentID:  "c1",
		RiskScore:  62,
		RiskLabel:  "Medium",
		Categories: []string{"Hate Speech"},
		Priority:   "MEDIUM",
	}
	require.NoError(cs.Create(ctx, row))
	assert.NotZero(row.ID)

	dup := &ContentAnalysis{ContentID: "c1", RiskLabel: "Low"}
	assert.True(errors.Is(cs.Create(ctx, dup), ErrConflict))

	got, err := cs.Get(ctx, "c1")
	require.NoError(err)
	assert.Equal(62, got.RiskScore)
	assert.Equal([]string{"Hate Speech"}, got.Categories)

	_, err = cs.Get(ctx, "missing")
	assert.True(errors.Is(err, ErrNotFound))

	require.NoError(cs.Create(ctx, &ContentAnalysis{ContentID: "c2", RiskLabel: "Low"}))
	require.NoError(cs.Create(ctx, &ContentAnalysis{ContentID: "c3", RiskLabel: "Low"}))
	counts, err := cs.CountByLabel(ctx)
	require.NoError(err)
	assert.Equal(int64(2), counts["Low"])
	assert.Equal(int64(1), counts["Medium"])
}

func TestContentStoreDuplicateNotLogged(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	var buf bytes.Buffer
	db := TestingDB(t).Session(&gorm.Session{
		Logger: slogGorm.New(slogGorm.WithHandler(slog.NewTextHandler(&buf, nil))),
	})
	cs, err := NewContentStore(db)
	require.NoError(err)

	require.NoError(cs.Create(ctx, &ContentAnalysis{ContentID: "c1", ContentText: "first submission text"}))
	err = cs.Create(ctx, &ContentAnalysis{ContentID: "c1", ContentText: "repeat submission text"})
	assert.ErrorIs(err, ErrConflict)
	assert.False(IsTransient(err))

	assert.NotContains(buf.String(), "repeat submission text")
	assert.NotContains(buf.String(), "level=ERROR")

	got, err := cs.Get(ctx, "c1")
	require.NoError(err)
	assert.Equal("first submission text", got.ContentText)
}
