package store

// Timestamps are stored as fixed-width ISO-8601 UTC text, so the string
// comparisons in the dedup and retention predicates order correctly.
const schema = `
CREATE TABLE IF NOT EXISTS servers (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    name         TEXT    NOT NULL UNIQUE,
    host         TEXT    NOT NULL,
    agent_port   INTEGER NOT NULL DEFAULT 9109,
    token        TEXT    NOT NULL,
    enabled      INTEGER NOT NULL DEFAULT 1,
    services     TEXT    NOT NULL DEFAULT '[]',
    proxy_config TEXT,
    last_seen_at TEXT,
    created_at   TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS samples_hourly (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    server_id        INTEGER NOT NULL REFERENCES servers(id) ON DELETE CASCADE,
    ts               TEXT    NOT NULL,
    cpu_pct_avg      REAL,
    cpu_pct_max      REAL,
    disk_used_pct    REAL,
    disk_used_bytes  INTEGER,
    disk_total_bytes INTEGER,
    gpu_util_pct_avg REAL,
    gpu_util_pct_max REAL,
    gpu_mem_used_mb  INTEGER,
    gpu_mem_total_mb INTEGER,
    UNIQUE (server_id, ts)
);

CREATE INDEX IF NOT EXISTS idx_samples_hourly_server_ts
    ON samples_hourly (server_id, ts DESC);

CREATE TABLE IF NOT EXISTS events (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    server_id INTEGER NOT NULL REFERENCES servers(id) ON DELETE CASCADE,
    ts        TEXT    NOT NULL,
    type      TEXT    NOT NULL,
    message   TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_events_server_type_ts
    ON events (server_id, type, ts DESC);

CREATE INDEX IF NOT EXISTS idx_events_ts
    ON events (ts DESC);
`
