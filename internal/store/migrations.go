package store

// migration represents a single schema migration. Statements run one at a
// time so the same list works on both drivers.
type migration struct {
	Version    int
	Name       string
	Statements []string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create webhook events",
		Statements: []string{
			`CREATE TABLE webhook_events (
				id            TEXT PRIMARY KEY,
				event_type    TEXT NOT NULL,
				raw_payload   TEXT NOT NULL,
				processed     INTEGER NOT NULL DEFAULT 0,
				processed_at  TEXT,
				error_message TEXT,
				retry_count   INTEGER NOT NULL DEFAULT 0,
				source_ip     TEXT,
				user_agent    TEXT,
				created_at    TEXT NOT NULL
			)`,
			`CREATE INDEX idx_webhook_events_processed ON webhook_events (processed, created_at)`,
		},
	},
	{
		Version: 2,
		Name:    "create contacts, conversations and messages",
		Statements: []string{
			`CREATE TABLE contacts (
				id                  TEXT PRIMARY KEY,
				external_id         TEXT,
				phone               TEXT NOT NULL,
				name                TEXT,
				email               TEXT,
				status              TEXT NOT NULL DEFAULT 'active',
				tags                TEXT NOT NULL DEFAULT '[]',
				metadata            TEXT NOT NULL DEFAULT '{}',
				last_interaction_at TEXT NOT NULL,
				created_at          TEXT NOT NULL,
				updated_at          TEXT NOT NULL
			)`,
			`CREATE UNIQUE INDEX idx_contacts_external_id ON contacts (external_id)`,
			`CREATE UNIQUE INDEX idx_contacts_phone ON contacts (phone)`,

			`CREATE TABLE conversations (
				id                TEXT PRIMARY KEY,
				external_id       TEXT,
				contact_id        TEXT NOT NULL REFERENCES contacts(id),
				channel           TEXT NOT NULL DEFAULT 'whatsapp',
				status            TEXT NOT NULL DEFAULT 'open',
				assigned_agent_id TEXT,
				priority          TEXT NOT NULL DEFAULT 'normal',
				closed_at         TEXT,
				last_message_at   TEXT NOT NULL,
				metadata          TEXT NOT NULL DEFAULT '{}',
				created_at        TEXT NOT NULL,
				updated_at        TEXT NOT NULL
			)`,
			`CREATE UNIQUE INDEX idx_conversations_external_id ON conversations (external_id)`,
			`CREATE INDEX idx_conversations_contact ON conversations (contact_id, status, last_message_at)`,

			`CREATE TABLE messages (
				id              TEXT PRIMARY KEY,
				external_id     TEXT NOT NULL,
				conversation_id TEXT NOT NULL REFERENCES conversations(id),
				contact_id      TEXT NOT NULL REFERENCES contacts(id),
				direction       TEXT NOT NULL,
				type            TEXT NOT NULL DEFAULT 'text',
				content         TEXT,
				media_url       TEXT,
				media_mime_type TEXT,
				media_caption   TEXT,
				status          TEXT NOT NULL,
				event_timestamp TEXT NOT NULL,
				created_at      TEXT NOT NULL,
				raw_payload     TEXT
			)`,
			`CREATE UNIQUE INDEX idx_messages_external_id ON messages (external_id)`,
			`CREATE INDEX idx_messages_conversation ON messages (conversation_id, direction, event_timestamp)`,
		},
	},
	{
		Version: 3,
		Name:    "create pending responses",
		Statements: []string{
			`CREATE TABLE pending_responses (
				id                           TEXT PRIMARY KEY,
				conversation_key             TEXT NOT NULL,
				contact_phone                TEXT NOT NULL,
				contact_name                 TEXT,
				customer_message_time        TEXT NOT NULL,
				customer_message_external_id TEXT NOT NULL,
				customer_message_content     TEXT,
				is_pending                   INTEGER NOT NULL DEFAULT 1,
				agent_response_time          TEXT,
				agent_message_external_id    TEXT,
				response_time_ms             BIGINT,
				response_time_minutes        BIGINT,
				is_first_message             INTEGER NOT NULL DEFAULT 0,
				customer_gap_ms              BIGINT,
				created_at                   TEXT NOT NULL,
				updated_at                   TEXT NOT NULL
			)`,
			// At most one open entry per conversation key.
			`CREATE UNIQUE INDEX idx_pending_open_key ON pending_responses (conversation_key) WHERE is_pending = 1`,
			`CREATE UNIQUE INDEX idx_pending_customer_message ON pending_responses (customer_message_external_id)`,
			`CREATE INDEX idx_pending_key_time ON pending_responses (conversation_key, is_pending, customer_message_time)`,
			`CREATE INDEX idx_pending_answered ON pending_responses (is_pending, agent_response_time)`,
		},
	},
}
