package graph

// schema is the base DDL for a fresh database. Columns added after the
// initial release live in migrations.go, following the split the teacher
// uses between schema.go (baseline) and internal/storage/sqlite/migrations
// (evolutions) in internal/storage/sqlite/migrations.go.
const schema = `
-- Append-only triple revision log (spec section 3). "subject" and
-- "object" hold the node's canonical {"t","v"} envelope text so the same
-- column can be filtered by type or by value without per-kind columns.
-- No two rows share the same (subject, predicate, object, commit_id).
CREATE TABLE IF NOT EXISTS edges (
    subject    TEXT    NOT NULL,
    predicate  TEXT    NOT NULL,
    object     TEXT    NOT NULL,
    commit_id  INTEGER NOT NULL,
    edge_exist INTEGER NOT NULL CHECK (edge_exist IN (0, 1)),
    PRIMARY KEY (subject, predicate, object, commit_id)
);

-- Index backing the "current edges" projection: latest revision per
-- (s,p,o) via max(commit_id).
CREATE INDEX IF NOT EXISTS idx_edges_spo_commit
    ON edges(subject, predicate, object, commit_id DESC);

-- Supports get_triples_around's object-side lookup.
CREATE INDEX IF NOT EXISTS idx_edges_object
    ON edges(object, commit_id DESC);

-- Commit log: one row per commit() call (spec section 3 "Commit").
CREATE TABLE IF NOT EXISTS commits (
    commit_id INTEGER PRIMARY KEY,
    comment   TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Node metadata: populated for File nodes on upload and for any node
-- that is ever a triple endpoint (spec section 3 "Node metadata").
CREATE TABLE IF NOT EXISTS node_meta (
    node       TEXT PRIMARY KEY, -- canonical node envelope text
    mimetype   TEXT,
    size       INTEGER,
    fulltext   TEXT,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Full text index over node metadata, used by Search chain roots
-- (spec section 4.D). content='node_meta' makes this an external content
-- table over node_meta, keyed by node_meta.rowid and kept in step by the
-- triggers below.
CREATE VIRTUAL TABLE IF NOT EXISTS node_meta_fts USING fts5(
    node UNINDEXED,
    fulltext,
    content='node_meta',
    content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS node_meta_fts_ai AFTER INSERT ON node_meta BEGIN
    INSERT INTO node_meta_fts(rowid, node, fulltext) VALUES (new.rowid, new.node, new.fulltext);
END;

CREATE TRIGGER IF NOT EXISTS node_meta_fts_ad AFTER DELETE ON node_meta BEGIN
    INSERT INTO node_meta_fts(node_meta_fts, rowid, node, fulltext) VALUES ('delete', old.rowid, old.node, old.fulltext);
END;

CREATE TRIGGER IF NOT EXISTS node_meta_fts_au AFTER UPDATE ON node_meta BEGIN
    INSERT INTO node_meta_fts(node_meta_fts, rowid, node, fulltext) VALUES ('delete', old.rowid, old.node, old.fulltext);
    INSERT INTO node_meta_fts(rowid, node, fulltext) VALUES (new.rowid, new.node, new.fulltext);
END;

-- Generated artifact records: authoritative over the filesystem (spec
-- section 3 "Generated artifact record").
CREATE TABLE IF NOT EXISTS generated_artifacts (
    source_node TEXT NOT NULL,
    gentype     TEXT NOT NULL,
    mimetype    TEXT NOT NULL,
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (source_node, gentype)
);

-- Durable derivation queue: one row per (file, pass) job still pending.
-- The derivation worker (component F) drains this FIFO-per-source table.
CREATE TABLE IF NOT EXISTS derive_queue (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    file_node   TEXT NOT NULL,
    job_kind    TEXT NOT NULL, -- 'one' or 'all'
    include_slow INTEGER NOT NULL DEFAULT 1,
    enqueued_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_derive_queue_file ON derive_queue(file_node);
`
