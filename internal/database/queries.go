package database

// Communication queries
const (
	insertCommunicationQuery = `
		INSERT INTO communications (
			direction, from_address, to_addresses, subject,
			body_html, body_preview, provider_message_id, rfc_message_id,
			thread_id, category, order_id, triage_state, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	selectCommunicationColumns = `
		SELECT id, direction, from_address, to_addresses, subject,
		       body_html, body_preview, provider_message_id, rfc_message_id,
		       thread_id, category, order_id, triage_state, received_at,
		       created_at, updated_at
		FROM communications
	`

	selectCommunicationByProviderIDQuery = selectCommunicationColumns + `
		WHERE provider_message_id = ? AND provider_message_id != ''
		LIMIT 1
	`

	selectCommunicationByRFCIDQuery = selectCommunicationColumns + `
		WHERE rfc_message_id = ? AND rfc_message_id != ''
		LIMIT 1
	`

	// Symmetric range query: tolerant of clock skew in either direction,
	// and commutative across racing writers.
	selectCommunicationByFingerprintQuery = selectCommunicationColumns + `
		WHERE from_address = ? AND subject = ?
		  AND received_at BETWEEN ? AND ?
		LIMIT 1
	`

	selectLinkedOrderByThreadQuery = `
		SELECT order_id FROM communications
		WHERE thread_id = ? AND thread_id != '' AND order_id IS NOT NULL
		ORDER BY received_at DESC
		LIMIT 1
	`

	selectCommunicationsByOrderQuery = selectCommunicationColumns + `
		WHERE order_id = ?
		ORDER BY received_at DESC
	`

	updateCommunicationTriageQuery = `
		UPDATE communications
		SET order_id = ?, triage_state = ?
		WHERE id = ?
	`
)

// Order queries (read-only view over the back-office table)
const (
	selectOrderColumns = `
		SELECT id, customer_email, alternate_emails, status,
		       tracking_number, closed, created_at, updated_at
		FROM orders
	`

	selectOrderByIDQuery = selectOrderColumns + `
		WHERE id = ?
	`

	// Candidate match on primary or alternate identity inside the
	// trailing window; final identity verification happens in Go because
	// alternate_emails is a JSON array.
	selectLinkableOrdersQuery = selectOrderColumns + `
		WHERE (LOWER(customer_email) = ? OR alternate_emails LIKE ?)
		  AND closed = 0
		  AND updated_at >= ?
		ORDER BY updated_at DESC
		LIMIT 10
	`
)

// Scheduled send queries
const (
	upsertPendingScheduledSendQuery = `
		INSERT INTO scheduled_sends (
			order_id, send_kind, to_address, scheduled_at, precondition, status
		) VALUES (?, ?, ?, ?, ?, 'pending')
		ON CONFLICT(order_id, send_kind) WHERE status = 'pending'
		DO UPDATE SET
			to_address = excluded.to_address,
			scheduled_at = excluded.scheduled_at,
			precondition = excluded.precondition
	`

	selectScheduledSendColumns = `
		SELECT id, order_id, send_kind, to_address, scheduled_at,
		       precondition, status, reason, created_at, updated_at
		FROM scheduled_sends
	`

	selectDueScheduledSendsQuery = selectScheduledSendColumns + `
		WHERE status = 'pending' AND scheduled_at <= ?
		ORDER BY scheduled_at ASC
		LIMIT ?
	`

	selectScheduledSendsByOrderQuery = selectScheduledSendColumns + `
		WHERE order_id = ?
		ORDER BY created_at DESC
	`

	selectScheduledSendByIDQuery = selectScheduledSendColumns + `
		WHERE id = ?
	`

	// Guarded on status so terminal states admit no further transitions,
	// even under overlapping sweeps.
	markScheduledSendQuery = `
		UPDATE scheduled_sends
		SET status = ?, reason = ?
		WHERE id = ? AND status = 'pending'
	`

	insertCompletedSendQuery = `
		INSERT OR IGNORE INTO completed_sends (order_id, send_kind)
		VALUES (?, ?)
	`

	selectCompletedSendQuery = `
		SELECT id, order_id, send_kind, sent_at
		FROM completed_sends
		WHERE order_id = ? AND send_kind = ?
	`
)

// Sender filter queries
const (
	upsertSenderFilterQuery = `
		INSERT INTO sender_filters (pattern, category)
		VALUES (?, ?)
		ON CONFLICT(pattern) DO UPDATE SET
			category = excluded.category,
			updated_at = CURRENT_TIMESTAMP
	`

	selectSenderFilterQuery = `
		SELECT category FROM sender_filters
		WHERE pattern = ?
	`
)

// Dead letter queries
const (
	insertDeadLetterQuery = `
		INSERT INTO dead_letters (
			operation_type, operation_key, error_message, error_code,
			payload, retry_count, max_retries, next_retry_at, status
		) VALUES (?, ?, ?, ?, ?, 0, ?, ?, 'pending')
	`

	selectDeadLetterColumns = `
		SELECT id, operation_type, operation_key, error_message, error_code,
		       payload, retry_count, max_retries, next_retry_at, status,
		       note, created_at, updated_at
		FROM dead_letters
	`

	selectRetryableDeadLettersQuery = selectDeadLetterColumns + `
		WHERE status IN ('pending', 'retrying') AND next_retry_at <= ?
		ORDER BY next_retry_at ASC
		LIMIT ?
	`

	selectDeadLetterByIDQuery = selectDeadLetterColumns + `
		WHERE id = ?
	`

	selectDeadLettersByStatusQuery = selectDeadLetterColumns + `
		WHERE status = ?
		ORDER BY updated_at DESC
		LIMIT ?
	`

	updateDeadLetterRetryQuery = `
		UPDATE dead_letters
		SET retry_count = ?, next_retry_at = ?, status = ?, error_message = ?
		WHERE id = ?
	`

	resolveDeadLetterQuery = `
		UPDATE dead_letters
		SET status = ?, note = ?
		WHERE id = ? AND status IN ('pending', 'retrying', 'failed')
	`
)
