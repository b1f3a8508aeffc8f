package store

// migration is one schema step with its target version
type migration struct {
	version int
	sql     string
}

// migrations must stay ordered by version
var migrations = []migration{
	{
		version: 1,
		sql: `
-- Encrypted mailbox credentials, one row per user
CREATE TABLE IF NOT EXISTS user_credentials (
    email TEXT PRIMARY KEY,
    encrypted_password TEXT NOT NULL,
    imap_host TEXT NOT NULL,
    imap_port INTEGER NOT NULL,
    imap_tls INTEGER NOT NULL DEFAULT 1,
    smtp_host TEXT NOT NULL DEFAULT '',
    smtp_port INTEGER NOT NULL DEFAULT 587,
    last_connection_at DATETIME,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

-- User-defined labels
CREATE TABLE IF NOT EXISTS labels (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL,
    color TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    UNIQUE(user_id, name)
);

-- Label assignments keyed by (user, message uid, folder, label)
CREATE TABLE IF NOT EXISTS message_labels (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    message_uid TEXT NOT NULL,
    folder TEXT NOT NULL,
    label_id INTEGER NOT NULL,
    created_at DATETIME NOT NULL,
    FOREIGN KEY (label_id) REFERENCES labels(id) ON DELETE CASCADE,
    UNIQUE(user_id, message_uid, folder, label_id)
);

CREATE INDEX IF NOT EXISTS idx_labels_user_id ON labels(user_id);
CREATE INDEX IF NOT EXISTS idx_message_labels_label_id ON message_labels(label_id);
CREATE INDEX IF NOT EXISTS idx_message_labels_message ON message_labels(user_id, message_uid, folder);
`,
	},
	{
		version: 2,
		sql: `
-- Correspondents, for autocomplete
CREATE TABLE IF NOT EXISTS contacts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_email TEXT NOT NULL,
    contact_email TEXT NOT NULL,
    contact_name TEXT NOT NULL DEFAULT '',
    frequency INTEGER NOT NULL DEFAULT 1,
    last_contacted DATETIME NOT NULL,
    UNIQUE(user_email, contact_email)
);

CREATE INDEX IF NOT EXISTS idx_contacts_user_email ON contacts(user_email);

-- Full-text search index
CREATE VIRTUAL TABLE IF NOT EXISTS contacts_fts USING fts5(
    contact_email,
    contact_name,
    content='contacts',
    content_rowid='id'
);

-- Triggers for FTS
CREATE TRIGGER IF NOT EXISTS contacts_fts_insert AFTER INSERT ON contacts BEGIN
    INSERT INTO contacts_fts(rowid, contact_email, contact_name)
    VALUES (new.id, new.contact_email, new.contact_name);
END;

CREATE TRIGGER IF NOT EXISTS contacts_fts_update AFTER UPDATE ON contacts BEGIN
    INSERT INTO contacts_fts(contacts_fts, rowid, contact_email, contact_name)
    VALUES ('delete', old.id, old.contact_email, old.contact_name);
    INSERT INTO contacts_fts(rowid, contact_email, contact_name)
    VALUES (new.id, new.contact_email, new.contact_name);
END;

CREATE TRIGGER IF NOT EXISTS contacts_fts_delete AFTER DELETE ON contacts BEGIN
    INSERT INTO contacts_fts(contacts_fts, rowid, contact_email, contact_name)
    VALUES ('delete', old.id, old.contact_email, old.contact_name);
END;
`,
	},
}
