package store

const Schema = `
CREATE TABLE IF NOT EXISTS history (
	id TEXT PRIMARY KEY,
	queue_id INTEGER NOT NULL DEFAULT 0,
	url TEXT NOT NULL,
	title TEXT NOT NULL,
	kind TEXT NOT NULL,
	format TEXT,
	quality TEXT,
	file_path TEXT,
	completed_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_history_completed_at ON history(completed_at);
CREATE INDEX IF NOT EXISTS idx_history_file_path ON history(file_path);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`
