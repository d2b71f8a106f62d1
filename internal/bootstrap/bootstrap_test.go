package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedstate/internal/domain/entity"
	"feedstate/pkg/tier"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQueueBackend(t *testing.T) {
	tests := map[string]string{
		"":         BackendPostgres,
		"postgres": BackendPostgres,
		" FILE ":   BackendFile,
		"kafka":    BackendPostgres,
	}
	for in, want := range tests {
		t.Setenv("QUEUE_BACKEND", in)
		assert.Equal(t, want, QueueBackend(), "QUEUE_BACKEND=%q", in)
	}
}

func TestOpenDatabase_Optional(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	database, err := OpenDatabase(context.Background(), discard(), false)
	require.NoError(t, err)
	assert.Nil(t, database)

	_, err = OpenDatabase(context.Background(), discard(), true)
	assert.Error(t, err)
}

func TestOpenQueue_FileWithoutDatabase(t *testing.T) {
	t.Setenv("QUEUE_BACKEND", "postgres")
	t.Setenv("QUEUE_DIR", t.TempDir())

	q, err := OpenQueue(nil, discard())
	require.NoError(t, err)

	ctx := context.Background()
	require.True(t, q.Push(ctx, "u1", "hello", "", nil, entity.PriorityNormal))
	assert.Equal(t, 1, q.Count(ctx))

	var delivered []string
	res := q.Process(ctx, 10, func(_ context.Context, recipientID, _, _ string, _ map[string]any) bool {
		delivered = append(delivered, recipientID)
		return true
	})
	assert.Equal(t, 1, res.Success)
	assert.Equal(t, []string{"u1"}, delivered)
}

func TestNewDeliverFunc_Gateway(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	t.Setenv("PUSH_GATEWAY_URL", srv.URL)

	deliver := NewDeliverFunc(discard())
	assert.True(t, deliver(context.Background(), "u1", "t", "b", nil))
	assert.Equal(t, int32(1), hits.Load())
}

func TestNewDeliverFunc_LogOnly(t *testing.T) {
	t.Setenv("PUSH_GATEWAY_URL", "")
	assert.True(t, NewDeliverFunc(discard())(context.Background(), "u1", "t", "b", nil))
}

func TestNewSelector_ForcedFile(t *testing.T) {
	t.Setenv("STATE_DRIVER", "file")
	t.Setenv("STATE_FILE_DIR", t.TempDir())

	sel := NewSelector(discard())
	defer func() { _ = sel.Close() }()

	assert.Equal(t, tier.KindFile, sel.Select(context.Background()).Kind())
	assert.Equal(t, tier.KindFile, sel.Selected())
}
