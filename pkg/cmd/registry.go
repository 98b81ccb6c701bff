// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/actions/chat"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/actions/database"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/actions/httpcall"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/actions/notify"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/actions/record"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/registry"
	"github.com/jonboulle/clockwork"
)

// NewRegistry registers an adapter for every action kind. db backs
// database_op and create_record; when nil those actions fail as
// misconfigured. Email and SMS are logged until a provider is configured.
func NewRegistry(log *slog.Logger, db *sql.DB, clock clockwork.Clock) *registry.Registry {
	reg := registry.NewRegistry(log)

	caller := httpcall.NewAdapter(&http.Client{}, log)
	statements := database.NewAdapter(db)
	sender := notify.NewLogSender(log)

	reg.Register(models.ActionAPICall, caller)
	reg.Register(models.ActionWebhook, caller)
	reg.Register(models.ActionChatNotification, chat.NewAdapter(caller))
	reg.Register(models.ActionDatabaseOp, statements)
	reg.Register(models.ActionCreateRecord, record.NewAdapter(statements, clock))
	reg.Register(models.ActionEmail, notify.NewEmailAdapter(sender))
	reg.Register(models.ActionSMS, notify.NewSMSAdapter(sender))

	return reg
}
