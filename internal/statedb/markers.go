package statedb

import (
	"database/sql"
	"fmt"
	"time"
)

const defaultMemoryConfidence = 0.7

// BridgeMarker is one persisted row extracted from a [MEMORY|EVENT|COOLDOWN]
// annotation in assistant message content.
type BridgeMarker struct {
	ID          int64
	AgentID     string
	SessionKey  string
	Kind        string // "event", "memory", "cooldown"
	Level       string
	Service     string
	Message     string
	Category    string
	Observation string
	Confidence  float64
	Active      bool
	CreatedAt   string
	UpdatedAt   string
}

// InsertEventMarker records an [EVENT:...] annotation.
func (d *DB) InsertEventMarker(agentID, sessionKey, level, service, message string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := d.conn.Exec(
		`INSERT INTO bridge_markers (agent_id, session_key, kind, level, service, message, active, created_at, updated_at)
		 VALUES (?, ?, 'event', ?, ?, ?, 1, ?, ?)`,
		agentID, sessionKey, level, service, message, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert event marker: %w", err)
	}
	return res.LastInsertId()
}

// InsertCooldownMarker records a [COOLDOWN:...] annotation.
func (d *DB) InsertCooldownMarker(agentID, sessionKey, category, service string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := d.conn.Exec(
		`INSERT INTO bridge_markers (agent_id, session_key, kind, category, service, active, created_at, updated_at)
		 VALUES (?, ?, 'cooldown', ?, ?, 1, ?, ?)`,
		agentID, sessionKey, category, service, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert cooldown marker: %w", err)
	}
	return res.LastInsertId()
}

// findSimilarMemoryMarker looks up the most recent active memory marker row
// for the same service+category, mirroring the teacher's FindSimilarMemory.
func (d *DB) findSimilarMemoryMarker(agentID, service, category string) (*BridgeMarker, error) {
	m := &BridgeMarker{}
	var active int
	err := d.conn.QueryRow(
		`SELECT id, agent_id, session_key, category, observation, confidence, active, created_at, updated_at
		 FROM bridge_markers
		 WHERE agent_id = ? AND kind = 'memory' AND service = ? AND category = ?
		 ORDER BY id DESC LIMIT 1`,
		agentID, service, category,
	).Scan(&m.ID, &m.AgentID, &m.SessionKey, &m.Category, &m.Observation, &m.Confidence, &active, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find similar memory marker: %w", err)
	}
	m.Active = active == 1
	return m, nil
}

// UpsertMemoryMarker implements the teacher's reinforce/contradict confidence
// math for [MEMORY:...] annotations: a repeated identical observation
// reinforces confidence by +0.1 (capped at 1.0); a differing observation for
// the same service+category contradicts the prior row by -0.1 (deactivating
// it below 0.3) and inserts the new observation at the default confidence.
func (d *DB) UpsertMemoryMarker(agentID, sessionKey, service, category, observation string) error {
	existing, err := d.findSimilarMemoryMarker(agentID, service, category)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)

	if existing != nil {
		if existing.Observation == observation {
			newConf := existing.Confidence + 0.1
			if newConf > 1.0 {
				newConf = 1.0
			}
			_, err := d.conn.Exec(
				`UPDATE bridge_markers SET confidence = ?, updated_at = ? WHERE id = ?`,
				newConf, now, existing.ID,
			)
			if err != nil {
				return fmt.Errorf("reinforce memory marker %d: %w", existing.ID, err)
			}
			return nil
		}

		newConf := existing.Confidence - 0.1
		active := existing.Active
		if newConf < 0.3 {
			active = false
		}
		if _, err := d.conn.Exec(
			`UPDATE bridge_markers SET confidence = ?, active = ?, updated_at = ? WHERE id = ?`,
			newConf, boolToInt(active), now, existing.ID,
		); err != nil {
			return fmt.Errorf("contradict memory marker %d: %w", existing.ID, err)
		}
	}

	_, err = d.conn.Exec(
		`INSERT INTO bridge_markers (agent_id, session_key, kind, service, category, observation, confidence, active, created_at, updated_at)
		 VALUES (?, ?, 'memory', ?, ?, ?, ?, 1, ?, ?)`,
		agentID, sessionKey, service, category, observation, defaultMemoryConfidence, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert memory marker: %w", err)
	}
	return nil
}

// DecayStaleMemoryMarkers reduces confidence for active memory markers not
// updated within graceDays, then deactivates any that fall below 0.3.
func (d *DB) DecayStaleMemoryMarkers(graceDays int, decayRate float64) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -graceDays).Format(time.RFC3339)
	_, err := d.conn.Exec(
		`UPDATE bridge_markers SET confidence = confidence - ? WHERE kind = 'memory' AND active = 1 AND updated_at < ?`,
		decayRate, cutoff,
	)
	if err != nil {
		return fmt.Errorf("decay stale memory markers: %w", err)
	}
	_, err = d.conn.Exec(`UPDATE bridge_markers SET active = 0 WHERE kind = 'memory' AND confidence < 0.3`)
	if err != nil {
		return fmt.Errorf("deactivate low-confidence memory markers: %w", err)
	}
	return nil
}

// ListActiveMemoryMarkers returns active memory markers with confidence >=
// 0.3, ordered by confidence descending.
func (d *DB) ListActiveMemoryMarkers(agentID string, limit int) ([]BridgeMarker, error) {
	rows, err := d.conn.Query(
		`SELECT id, agent_id, session_key, category, observation, confidence, active, created_at, updated_at
		 FROM bridge_markers
		 WHERE agent_id = ? AND kind = 'memory' AND active = 1 AND confidence >= 0.3
		 ORDER BY confidence DESC LIMIT ?`,
		agentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list active memory markers: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var markers []BridgeMarker
	for rows.Next() {
		var m BridgeMarker
		var active int
		if err := rows.Scan(&m.ID, &m.AgentID, &m.SessionKey, &m.Category, &m.Observation, &m.Confidence, &active, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan memory marker: %w", err)
		}
		m.Active = active == 1
		markers = append(markers, m)
	}
	return markers, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
