package session

// Timestamps are BIGINT unix microseconds in every dialect.
var schemaStatements = map[string][]string{
	DialectPostgres: {
		`CREATE TABLE IF NOT EXISTS sessions (
	id                   VARCHAR(64)  PRIMARY KEY,
	user_id              VARCHAR(255) NOT NULL,
	current_fingerprint  VARCHAR(128) NOT NULL,
	previous_fingerprint VARCHAR(128) NOT NULL DEFAULT '',
	current_token_id     VARCHAR(64)  NOT NULL DEFAULT '',
	previous_token_id    VARCHAR(64)  NOT NULL DEFAULT '',
	device_info          TEXT         NOT NULL DEFAULT '',
	ip_address           VARCHAR(64)  NOT NULL DEFAULT '',
	created_at           BIGINT       NOT NULL,
	last_used_at         BIGINT       NULL,
	expires_at           BIGINT       NOT NULL,
	revoked_at           BIGINT       NULL,
	revoked_reason       VARCHAR(128) NULL
)`,
		`CREATE INDEX IF NOT EXISTS sessions_user_id_idx ON sessions (user_id)`,
	},
	DialectMySQL: {
		`CREATE TABLE IF NOT EXISTS sessions (
	id                   VARCHAR(64)  NOT NULL PRIMARY KEY,
	user_id              VARCHAR(255) NOT NULL,
	current_fingerprint  VARCHAR(128) NOT NULL,
	previous_fingerprint VARCHAR(128) NOT NULL DEFAULT '',
	current_token_id     VARCHAR(64)  NOT NULL DEFAULT '',
	previous_token_id    VARCHAR(64)  NOT NULL DEFAULT '',
	device_info          TEXT         NOT NULL,
	ip_address           VARCHAR(64)  NOT NULL DEFAULT '',
	created_at           BIGINT       NOT NULL,
	last_used_at         BIGINT       NULL,
	expires_at           BIGINT       NOT NULL,
	revoked_at           BIGINT       NULL,
	revoked_reason       VARCHAR(128) NULL,
	INDEX sessions_user_id_idx (user_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	},
	DialectSQLite: {
		`CREATE TABLE IF NOT EXISTS sessions (
	id                   TEXT    PRIMARY KEY,
	user_id              TEXT    NOT NULL,
	current_fingerprint  TEXT    NOT NULL,
	previous_fingerprint TEXT    NOT NULL DEFAULT '',
	current_token_id     TEXT    NOT NULL DEFAULT '',
	previous_token_id    TEXT    NOT NULL DEFAULT '',
	device_info          TEXT    NOT NULL DEFAULT '',
	ip_address           TEXT    NOT NULL DEFAULT '',
	created_at           INTEGER NOT NULL,
	last_used_at         INTEGER NULL,
	expires_at           INTEGER NOT NULL,
	revoked_at           INTEGER NULL,
	revoked_reason       TEXT    NULL
)`,
		`CREATE INDEX IF NOT EXISTS sessions_user_id_idx ON sessions (user_id)`,
	},
}
