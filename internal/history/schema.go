package history

func (s *Store) Init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`
CREATE TABLE IF NOT EXISTS transfers (
	id TEXT PRIMARY KEY,
	protocol TEXT NOT NULL,
	direction TEXT NOT NULL,
	path TEXT NOT NULL,

	bytes INTEGER NOT NULL DEFAULT 0,
	chunks INTEGER NOT NULL DEFAULT 0,
	retries INTEGER NOT NULL DEFAULT 0,

	outcome TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	started_at TEXT NOT NULL, -- UTC, fixed width
	duration_ms INTEGER NOT NULL DEFAULT 0
);
`,
		`CREATE INDEX IF NOT EXISTS transfers_started_at ON transfers(started_at);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
