package postgres

import (
	"fmt"

	"github.com/lib/pq"
)

// queries holds the statements for one dead-letter table. Table names come
// from configuration, so they are quoted once at construction.
type queries struct {
	insert string
	due    string
	delete string
	update string
}

func newQueries(table string) queries {
	t := pq.QuoteIdentifier(table)
	return queries{
		insert: fmt.Sprintf(`
INSERT INTO %s (
    dlq_id, kind, event_id, tenant_id, channel,
    correlation_key, recipient_local_time, metadata, job_name,
    payload, payload_checksum, retry_count, last_error,
    next_attempt_at, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
`, t),

		due: fmt.Sprintf(`
SELECT
    dlq_id, kind, event_id, tenant_id, channel,
    correlation_key, recipient_local_time, metadata, job_name,
    payload, payload_checksum, retry_count, last_error,
    next_attempt_at, created_at
FROM %s
WHERE next_attempt_at <= $1
ORDER BY next_attempt_at ASC, created_at ASC
LIMIT $2
`, t),

		delete: fmt.Sprintf(`
DELETE FROM %s WHERE dlq_id = $1
`, t),

		update: fmt.Sprintf(`
UPDATE %s
SET retry_count = $1,
    last_error = $2,
    next_attempt_at = $3
WHERE dlq_id = $4
`, t),
	}
}
