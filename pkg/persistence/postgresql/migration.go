package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				trigger_kind VARCHAR(50) NOT NULL,
				trigger_json JSONB NOT NULL,
				actions_json JSONB NOT NULL,
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				max_executions_per_hour INTEGER NOT NULL,
				max_concurrent_runs INTEGER NOT NULL DEFAULT 1,
				dedupe_window_seconds INTEGER NOT NULL DEFAULT 0,
				constants JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_tenant_id ON workflows(tenant_id);
			CREATE INDEX idx_workflows_trigger_kind ON workflows(trigger_kind);

			CREATE TABLE workflow_runs (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL,
				tenant_id TEXT NOT NULL,
				workflow_name VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'running', 'succeeded', 'failed', 'cancelled')),
				trigger_kind VARCHAR(50) NOT NULL,
				trigger_payload JSONB,
				actions_json JSONB NOT NULL,
				constants JSONB,
				dedupe_key TEXT,
				cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				error_message TEXT,
				failure JSONB
			);

			CREATE INDEX idx_workflow_runs_workflow_created ON workflow_runs(workflow_id, created_at DESC);
			CREATE INDEX idx_workflow_runs_status ON workflow_runs(status);
			CREATE INDEX idx_workflow_runs_created_at ON workflow_runs(created_at);

			CREATE TABLE run_steps (
				id TEXT PRIMARY KEY,
				run_id TEXT NOT NULL REFERENCES workflow_runs(id) ON DELETE CASCADE,
				step_index INTEGER NOT NULL,
				action_kind VARCHAR(50) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'running', 'succeeded', 'failed', 'retrying')),
				attempt INTEGER NOT NULL CHECK (attempt >= 1),
				input JSONB,
				output JSONB,
				error_message TEXT,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				UNIQUE (run_id, step_index, attempt)
			);

			CREATE INDEX idx_run_steps_run_id ON run_steps(run_id);
		`,
		2: `
			CREATE TABLE schedule_states (
				workflow_id TEXT PRIMARY KEY,
				last_fired_at TIMESTAMP WITH TIME ZONE,
				next_fire_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);
		`,
		3: `
			ALTER TABLE workflow_runs ADD COLUMN output JSONB;
		`,
	}
}
