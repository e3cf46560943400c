package notify_test

import (
	"context"
	"errors"
	"testing"

	"github.com/septivank/linky-feed-ingester/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recorder struct {
	got []notify.Notification
	err error
}

func (r *recorder) Notify(_ context.Context, n notify.Notification) error {
	r.got = append(r.got, n)
	return r.err
}

func TestLogNotifier_AlertAtWarn(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	notifier := notify.NewLogNotifier(zap.New(core))

	err := notifier.Notify(context.Background(), notify.Notification{
		Kind:      notify.KindAlert,
		Severity:  notify.SeverityHigh,
		Message:   "high power: 6000W (threshold: 5000W)",
		Papp:      6000,
		Threshold: 5000,
	})

	require.NoError(t, err)
	entries := logs.FilterMessageSnippet("ALERT:").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
}

func TestFanout_DeliversToAllAndJoinsErrors(t *testing.T) {
	first := &recorder{err: errors.New("broker down")}
	second := &recorder{}

	err := notify.Fanout{first, second}.Notify(context.Background(), notify.Notification{Kind: notify.KindRun})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Len(t, first.got, 1)
	assert.Len(t, second.got, 1)
}
