package storage

const crawlSchema = `
CREATE TABLE IF NOT EXISTS url (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	url  TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS frontier_entry (
	position INTEGER NOT NULL UNIQUE CHECK (position >= 0),
	url_id   INTEGER NOT NULL UNIQUE REFERENCES url(id)
);

CREATE TABLE IF NOT EXISTS request (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	url_id      INTEGER NOT NULL REFERENCES url(id),
	time        REAL NOT NULL,
	duration_ms REAL,
	status_kind TEXT NOT NULL,
	status_http INTEGER,
	status_epoch REAL,
	headers     TEXT,
	data        BLOB
);

CREATE INDEX IF NOT EXISTS idx_request_url_id_time ON request(url_id, time DESC);

CREATE TABLE IF NOT EXISTS document (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id INTEGER NOT NULL UNIQUE REFERENCES request(id),
	simhash_hi INTEGER NOT NULL,
	simhash_lo INTEGER NOT NULL,
	relevance  REAL NOT NULL,
	language   TEXT,
	title      TEXT,
	content    TEXT NOT NULL
);
`

const hostsSchema = `
CREATE TABLE IF NOT EXISTS host (
	origin        TEXT PRIMARY KEY,
	global_policy INTEGER,
	robots_txt    TEXT,
	refill_rate   REAL NOT NULL,
	refill_cap    INTEGER NOT NULL,
	updated       REAL NOT NULL,
	tokens        REAL NOT NULL CHECK (tokens >= 0 AND tokens <= refill_cap)
);
`

const indexSchema = `
CREATE TABLE IF NOT EXISTS index_document (
	id      INTEGER PRIMARY KEY,
	url     TEXT NOT NULL,
	title   TEXT,
	content TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS word (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	word TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS posting (
	word_id     INTEGER NOT NULL REFERENCES word(id),
	document_id INTEGER NOT NULL REFERENCES index_document(id),
	position    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_posting_word_id ON posting(word_id);
CREATE INDEX IF NOT EXISTS idx_posting_document_id ON posting(document_id);
`
