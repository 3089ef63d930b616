package persistent

// schema is applied in order at startup; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS test_cases (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		steps TEXT NOT NULL DEFAULT '',
		expected_result TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS prompts (
		id BIGSERIAL PRIMARY KEY,
		test_case_id BIGINT NOT NULL REFERENCES test_cases(id) ON DELETE CASCADE,
		prompt_text TEXT NOT NULL,
		generated_code TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS test_results (
		id BIGSERIAL PRIMARY KEY,
		test_case_id BIGINT NOT NULL REFERENCES test_cases(id) ON DELETE CASCADE,
		status VARCHAR(20) NOT NULL,
		logs TEXT NOT NULL DEFAULT '',
		screenshot_path TEXT,
		execution_time VARCHAR(32) NOT NULL DEFAULT '0s',
		executed_by_agent BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_prompts_test_case_id ON prompts (test_case_id)`,
	`CREATE INDEX IF NOT EXISTS idx_test_results_test_case_id ON test_results (test_case_id)`,
	`CREATE INDEX IF NOT EXISTS idx_test_results_created_at ON test_results (created_at)`,
}

const (
	insertCaseSQL = `
		INSERT INTO test_cases (name, description, steps, expected_result, url)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at;
	`
	getCaseSQL = `
		SELECT id, name, description, steps, expected_result, url, created_at, updated_at
		FROM test_cases
		WHERE id = $1;
	`
	listCasesSQL = `
		SELECT id, name, description, steps, expected_result, url, created_at, updated_at
		FROM test_cases
		ORDER BY id ASC;
	`
	// Prompts and results go with the case (ON DELETE CASCADE)
	deleteCaseSQL = `DELETE FROM test_cases WHERE id = $1;`

	insertPromptSQL = `
		INSERT INTO prompts (test_case_id, prompt_text)
		VALUES ($1, $2)
		RETURNING id, created_at;
	`
	updatePromptCodeSQL = `UPDATE prompts SET generated_code = $2 WHERE id = $1;`
	selectPromptsSQL    = `SELECT id, test_case_id, prompt_text, generated_code, created_at FROM prompts`
	countPromptsSQL     = `SELECT COUNT(*) FROM prompts;`

	insertResultSQL = `
		INSERT INTO test_results (test_case_id, status, logs, screenshot_path, execution_time, executed_by_agent)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at;
	`
	selectResultsSQL = `SELECT id, test_case_id, status, logs, screenshot_path, execution_time, executed_by_agent, created_at FROM test_results`
)
