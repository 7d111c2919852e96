package storage

import (
	"database/sql"
	"time"
)

// PutState upserts a job_state record under key with the given TTL,
// backing the Job State Store's (C12) SQLite fallback.
func (d *DB) PutState(key string, value []byte, ttl time.Duration) error {
	expiresAt := time.Now().Add(ttl)
	_, err := d.db.Exec(`
		INSERT INTO job_state (key, value, expires_at, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at, updated_at = CURRENT_TIMESTAMP
	`, key, value, expiresAt)
	return err
}

// GetState reads a non-expired job_state record. ok is false both when the
// key is absent and when it has expired (expired rows are lazily deleted).
func (d *DB) GetState(key string) (value []byte, ok bool, err error) {
	row := d.db.QueryRow(`SELECT value, expires_at FROM job_state WHERE key = ?`, key)
	var expiresAt time.Time
	if err := row.Scan(&value, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	if time.Now().After(expiresAt) {
		d.db.Exec(`DELETE FROM job_state WHERE key = ?`, key)
		return nil, false, nil
	}
	return value, true, nil
}

// DeleteState removes a job_state record regardless of expiry.
func (d *DB) DeleteState(key string) error {
	_, err := d.db.Exec(`DELETE FROM job_state WHERE key = ?`, key)
	return err
}

// StateKeysWithPrefix returns every non-expired job_state key starting
// with prefix, used by the Job State Store to enumerate live session ids.
func (d *DB) StateKeysWithPrefix(prefix string) ([]string, error) {
	rows, err := d.db.Query(`SELECT key FROM job_state WHERE key LIKE ? AND expires_at >= CURRENT_TIMESTAMP`, prefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// SweepExpiredState deletes every expired job_state row, returning the
// count removed. Intended to run periodically alongside stalled-job reset.
func (d *DB) SweepExpiredState() (int64, error) {
	result, err := d.db.Exec(`DELETE FROM job_state WHERE expires_at < CURRENT_TIMESTAMP`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
