package journal

const schema = `
-- One row per handled report file
CREATE TABLE IF NOT EXISTS ingest_log (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    ts          INTEGER NOT NULL,
    batch_id    TEXT    NOT NULL,
    file        TEXT    NOT NULL,
    machine_id  TEXT,
    report_type TEXT,
    device      TEXT,
    outcome     TEXT    NOT NULL, -- merged, activity, rejected
    error       TEXT,
    payload     BLOB              -- rejected reports only
);

-- Alert log
CREATE TABLE IF NOT EXISTS alert_log (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    ts          INTEGER NOT NULL,
    alert_type  TEXT    NOT NULL,
    subject     TEXT    NOT NULL,
    message     TEXT    NOT NULL,
    severity    TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ingest_ts ON ingest_log(ts);
CREATE INDEX IF NOT EXISTS idx_ingest_outcome ON ingest_log(outcome, id);
CREATE INDEX IF NOT EXISTS idx_ingest_machine ON ingest_log(machine_id, ts);
CREATE INDEX IF NOT EXISTS idx_alert_ts ON alert_log(ts);
`
