package notify_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/actions/notify"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	emails []notify.Email
	err    error
}

func (s *recordingSender) SendEmail(_ context.Context, email notify.Email) (string, error) {
	s.emails = append(s.emails, email)

	return "msg-1", s.err
}

func TestEmailAdapter(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	adapter := notify.NewEmailAdapter(sender)

	out, err := adapter.Execute(t.Context(), registry.Request{
		IdempotencyKey: "run-1:1:1",
		Config:         &models.EmailConfig{To: "a@example.com, b@example.com", Subject: "Overdue", Body: "Pay"},
	})
	require.NoError(t, err)

	require.Len(t, sender.emails, 1)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, sender.emails[0].To)
	assert.Equal(t, "run-1:1:1", sender.emails[0].IdempotencyKey)
	assert.Equal(t, "msg-1", out["messageId"])
}

func TestEmailAdapter_SenderErrorPassesThrough(t *testing.T) {
	t.Parallel()

	adapter := notify.NewEmailAdapter(&recordingSender{err: models.Permanent(assert.AnError)})

	_, err := adapter.Execute(t.Context(), registry.Request{
		Config: &models.EmailConfig{To: "a@example.com", Subject: "s", Body: "b"},
	})
	require.Error(t, err)
	assert.False(t, models.IsRetryable(err))
}

func TestSMSAdapter_LogSender(t *testing.T) {
	t.Parallel()

	adapter := notify.NewSMSAdapter(notify.NewLogSender(slog.Default()))

	out, err := adapter.Execute(t.Context(), registry.Request{
		IdempotencyKey: "run-1:0:1",
		Config:         &models.SMSConfig{To: "+447700900000", Message: "Site closed"},
	})
	require.NoError(t, err)
	assert.Equal(t, "log:run-1:0:1", out["messageId"])
}
