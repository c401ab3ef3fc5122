package statedb

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// UpsertRetrievalDiagnostics stores the most recent diagnostics snapshot for
// (agentId, endpoint), overwriting any prior snapshot (last-writer-wins).
func (d *DB) UpsertRetrievalDiagnostics(agentID, endpoint, query, strategy, priority string, diagnostics any) error {
	raw, err := json.Marshal(diagnostics)
	if err != nil {
		return fmt.Errorf("marshal retrieval diagnostics: %w", err)
	}
	_, err = d.conn.Exec(`
		INSERT INTO retrieval_diagnostics (agent_id, endpoint, query, strategy, priority, diagnostics_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(agent_id, endpoint) DO UPDATE SET
			query = excluded.query,
			strategy = excluded.strategy,
			priority = excluded.priority,
			diagnostics_json = excluded.diagnostics_json,
			updated_at = datetime('now')`,
		agentID, endpoint, query, strategy, priority, string(raw),
	)
	if err != nil {
		return fmt.Errorf("upsert retrieval diagnostics: %w", err)
	}
	return nil
}

// GetRetrievalDiagnostics retrieves and decodes the latest diagnostics
// snapshot for (agentId, endpoint) into out, or returns (false, nil) if none
// has been recorded yet.
func (d *DB) GetRetrievalDiagnostics(agentID, endpoint string, out any) (bool, error) {
	var raw string
	err := d.conn.QueryRow(
		`SELECT diagnostics_json FROM retrieval_diagnostics WHERE agent_id = ? AND endpoint = ?`,
		agentID, endpoint,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get retrieval diagnostics: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("unmarshal retrieval diagnostics: %w", err)
	}
	return true, nil
}
