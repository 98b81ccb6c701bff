// Package record creates domain records (projects, tasks) for create_record actions.
package record

import (
	"context"
	"fmt"
	"maps"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/actions/database"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/actions/httpcall"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/registry"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Tables maps record types to the tables holding them.
var Tables = map[string]string{
	"project": "projects",
	"task":    "tasks",
}

// recordNamespace seeds the deterministic record ids.
var recordNamespace = uuid.MustParse("8f0c2a52-4a7e-4d0b-9d3b-2f6d1c3e5a10")

type Adapter struct {
	db    *database.Adapter
	clock clockwork.Clock
}

func NewAdapter(db *database.Adapter, clock clockwork.Clock) *Adapter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Adapter{db: db, clock: clock}
}

// Execute upserts the record keyed by an id derived from the run and step,
// so a retried attempt updates the row its predecessor may have written.
func (a *Adapter) Execute(ctx context.Context, request registry.Request) (map[string]any, error) {
	config, ok := request.Config.(*models.CreateRecordConfig)
	if !ok {
		return nil, models.ConfigurationError(fmt.Errorf("%w: %T", httpcall.ErrUnexpectedConfig, request.Config))
	}

	table, ok := Tables[config.RecordType]
	if !ok {
		return nil, models.ConfigurationError(fmt.Errorf("unsupported record type %q", config.RecordType))
	}

	id := RecordID(request.RunID, request.StepIndex)

	rows, err := a.db.Exec(ctx, &models.DatabaseOpConfig{
		Table:        table,
		Operation:    models.DatabaseUpsert,
		Data:         Columns(id, request.TenantID, config, a.clock),
		ConflictKeys: []string{"id"},
	})
	if err != nil {
		return nil, err
	}

	out := map[string]any{"id": id, "recordType": config.RecordType}
	if len(rows) > 0 {
		out["record"] = rows[0]
	}

	return out, nil
}

// RecordID is stable for every attempt of one step of one run.
func RecordID(runID string, stepIndex int) string {
	return uuid.NewSHA1(recordNamespace, fmt.Appendf(nil, "%s:%d", runID, stepIndex)).String()
}

// Columns returns the row written for config.
func Columns(id, tenantID string, config *models.CreateRecordConfig, clock clockwork.Clock) map[string]any {
	data := maps.Clone(config.Fields)
	if data == nil {
		data = make(map[string]any)
	}

	data["id"] = id
	data["tenant_id"] = tenantID
	data["name"] = config.Name
	data["created_at"] = clock.Now().UTC()

	if config.Description != "" {
		data["description"] = config.Description
	}

	if config.ClientID != "" {
		data["client_id"] = config.ClientID
	}

	if config.Template != "" {
		data["template"] = config.Template
	}

	return data
}
