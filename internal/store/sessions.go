package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SessionRecord is the archived form of a coordination session. The verdict
// columns are set once, when the session reaches a terminal state.
type SessionRecord struct {
	ID          string          `json:"id"`
	Prompt      string          `json:"prompt"`
	State       string          `json:"state"`
	Agents      json.RawMessage `json:"agents"`
	Rounds      int             `json:"rounds"`
	VerdictKind string          `json:"verdict_kind,omitempty"`
	Decision    string          `json:"decision,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Supporting  json.RawMessage `json:"supporting,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// RoundRecord archives one sealed round: all responses plus the verdict.
type RoundRecord struct {
	SessionID string          `json:"session_id"`
	Number    int             `json:"number"`
	Responses json.RawMessage `json:"responses"`
	Verdict   json.RawMessage `json:"verdict"`
	CreatedAt time.Time       `json:"created_at"`
}

const sessionColumns = `id, prompt, state, agents, rounds, verdict_kind, decision, reason, supporting, started_at, completed_at`

func scanSession(scanner interface {
	Scan(dest ...any) error
}) (*SessionRecord, error) {
	r := &SessionRecord{}
	var agents string
	var kind, decision, reason, supporting *string
	err := scanner.Scan(&r.ID, &r.Prompt, &r.State, &agents, &r.Rounds,
		&kind, &decision, &reason, &supporting, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	r.Agents = json.RawMessage(agents)
	if kind != nil {
		r.VerdictKind = *kind
	}
	if decision != nil {
		r.Decision = *decision
	}
	if reason != nil {
		r.Reason = *reason
	}
	if supporting != nil {
		r.Supporting = json.RawMessage(*supporting)
	}
	return r, nil
}

func (s *Store) SaveSession(r *SessionRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, prompt, state, agents, rounds, verdict_kind, decision, reason, supporting)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			rounds = excluded.rounds,
			verdict_kind = excluded.verdict_kind,
			decision = excluded.decision,
			reason = excluded.reason,
			supporting = excluded.supporting,
			completed_at = CASE WHEN excluded.state LIKE 'done_%' THEN CURRENT_TIMESTAMP ELSE completed_at END`,
		r.ID, r.Prompt, r.State, string(r.Agents), r.Rounds,
		nullable(r.VerdictKind), nullable(r.Decision), nullable(r.Reason), nullableRaw(r.Supporting))
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(id string) (*SessionRecord, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	r, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return r, nil
}

func (s *Store) ListSessions(limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionRecord
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *r)
	}
	return sessions, rows.Err()
}

func (s *Store) DeleteSession(id string) error {
	if _, err := s.db.Exec(`DELETE FROM rounds WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete session rounds: %w", err)
	}
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Store) SaveRound(r *RoundRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO rounds (session_id, number, responses, verdict)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, number) DO UPDATE SET
			responses = excluded.responses,
			verdict = excluded.verdict`,
		r.SessionID, r.Number, string(r.Responses), string(r.Verdict))
	if err != nil {
		return fmt.Errorf("save round: %w", err)
	}
	return nil
}

func (s *Store) ListRounds(sessionID string) ([]RoundRecord, error) {
	rows, err := s.db.Query(`
		SELECT session_id, number, responses, verdict, created_at
		FROM rounds WHERE session_id = ? ORDER BY number`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	defer rows.Close()

	var rounds []RoundRecord
	for rows.Next() {
		r := RoundRecord{}
		var responses, verdict string
		if err := rows.Scan(&r.SessionID, &r.Number, &responses, &verdict, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		r.Responses = json.RawMessage(responses)
		r.Verdict = json.RawMessage(verdict)
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}
