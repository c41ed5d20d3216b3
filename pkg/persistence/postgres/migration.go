package postgres

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create workflow_rules table
			CREATE TABLE workflow_rules (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				is_active BOOLEAN NOT NULL DEFAULT FALSE,
				trigger JSONB NOT NULL,
				conditions JSONB NOT NULL DEFAULT '[]',
				actions JSONB NOT NULL DEFAULT '[]',
				priority INT NOT NULL DEFAULT 50,
				category VARCHAR(255),
				tags JSONB,
				created_by VARCHAR(255),
				updated_by VARCHAR(255),
				execution_count BIGINT NOT NULL DEFAULT 0,
				last_executed TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_rules_is_active ON workflow_rules(is_active);
			CREATE INDEX idx_workflow_rules_priority ON workflow_rules(priority);
			CREATE INDEX idx_workflow_rules_trigger_kind ON workflow_rules((trigger->>'kind'));
			CREATE INDEX idx_workflow_rules_created_at ON workflow_rules(created_at);

			-- Create workflow_executions table. seq preserves append order
			-- for listing.
			CREATE TABLE workflow_executions (
				id VARCHAR(255) PRIMARY KEY,
				seq BIGSERIAL,
				rule_id VARCHAR(255) NOT NULL,
				triggered_by VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL,
				context JSONB NOT NULL DEFAULT '{}',
				steps JSONB NOT NULL DEFAULT '[]',
				errors JSONB,
				logs JSONB NOT NULL DEFAULT '[]',
				start_time TIMESTAMP WITH TIME ZONE NOT NULL,
				end_time TIMESTAMP WITH TIME ZONE,
				duration_ns BIGINT NOT NULL DEFAULT 0
			);

			CREATE INDEX idx_workflow_executions_rule_id ON workflow_executions(rule_id);
			CREATE INDEX idx_workflow_executions_status ON workflow_executions(status);
			CREATE INDEX idx_workflow_executions_seq ON workflow_executions(seq);

			-- Create workflow_templates table
			CREATE TABLE workflow_templates (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				category VARCHAR(255),
				parameters JSONB NOT NULL DEFAULT '[]',
				rule JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_templates_category ON workflow_templates(category);
		`,
	}
}
