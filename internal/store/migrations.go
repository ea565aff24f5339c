package store

// migrationTickets creates the ticket table plus its label and assignee
// junction tables, matching SPEC_FULL.md §3/§6.4. Modeled after the
// teacher's ticket table shape in internal/db/sqlite.go's migration1, pared
// down to the fields this spec names and extended with real junction tables
// (the teacher instead inlines files/dependencies/etc as JSON-in-TEXT
// columns; labels and assignees here are relational since §6.4 explicitly
// calls for junction tables).
const migrationTickets = `
CREATE TABLE IF NOT EXISTS tickets (
    id TEXT PRIMARY KEY,
    repository_id TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT,
    solution_plan TEXT,
    status TEXT NOT NULL DEFAULT 'backlog',
    priority INTEGER,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status);
CREATE INDEX IF NOT EXISTS idx_tickets_repository ON tickets(repository_id);

CREATE TABLE IF NOT EXISTS labels (
    name TEXT PRIMARY KEY,
    color TEXT NOT NULL DEFAULT '#6366f1'
);

CREATE TABLE IF NOT EXISTS ticket_labels (
    ticket_id TEXT NOT NULL,
    label_name TEXT NOT NULL,
    PRIMARY KEY (ticket_id, label_name),
    FOREIGN KEY (ticket_id) REFERENCES tickets(id) ON DELETE CASCADE,
    FOREIGN KEY (label_name) REFERENCES labels(name) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS ticket_assignees (
    ticket_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    assignee_id TEXT NOT NULL,
    PRIMARY KEY (ticket_id, kind, assignee_id),
    FOREIGN KEY (ticket_id) REFERENCES tickets(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_ticket_assignees_ticket ON ticket_assignees(ticket_id);
`

// migrationComments creates the comment table. Cascades from tickets per
// §6.4 ("delete ticket -> delete its comments").
const migrationComments = `
CREATE TABLE IF NOT EXISTS comments (
    id TEXT PRIMARY KEY,
    ticket_id TEXT NOT NULL,
    author_kind TEXT NOT NULL,
    author_id TEXT NOT NULL,
    content TEXT NOT NULL,
    mentions TEXT,
    status TEXT NOT NULL DEFAULT 'completed',
    responding_to TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (ticket_id) REFERENCES tickets(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_comments_ticket ON comments(ticket_id);
CREATE INDEX IF NOT EXISTS idx_comments_status ON comments(status);
CREATE INDEX IF NOT EXISTS idx_comments_created ON comments(ticket_id, created_at);
`

// migrationAgents creates the agent registry. Name uniqueness is
// case-insensitive per §3, enforced with a unique index over NOCASE.
const migrationAgents = `
CREATE TABLE IF NOT EXISTS agents (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL COLLATE NOCASE,
    type TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    config TEXT,
    display_name TEXT,
    avatar TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_agents_name_nocase ON agents(name COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_agents_type ON agents(type);
`

// migrationTasks creates the per-agent task queue table. Cascades from
// agents per §6.4 ("delete agent -> delete its tasks").
const migrationTasks = `
CREATE TABLE IF NOT EXISTS agent_tasks (
    id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    type TEXT NOT NULL,
    payload TEXT NOT NULL DEFAULT '{}',
    priority INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'pending',
    error TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    started_at DATETIME,
    completed_at DATETIME,
    source_id TEXT,
    FOREIGN KEY (agent_id) REFERENCES agents(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_tasks_claim ON agent_tasks(agent_id, status, priority DESC, created_at ASC);
CREATE INDEX IF NOT EXISTS idx_tasks_dedup ON agent_tasks(agent_id, type, source_id, created_at);
`

// migrationIndexingJobs creates the indexing job queue, independent of the
// agent task queue (§4.7).
const migrationIndexingJobs = `
CREATE TABLE IF NOT EXISTS indexing_jobs (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    repository_id TEXT,
    file_path TEXT,
    doc_id TEXT,
    ticket_id TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    error TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    started_at DATETIME,
    completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_indexing_jobs_poll ON indexing_jobs(status, created_at);

-- content hashes used to skip re-indexing unchanged code files (§4.7 code case)
CREATE TABLE IF NOT EXISTS content_hashes (
    repository_id TEXT NOT NULL,
    file_path TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    PRIMARY KEY (repository_id, file_path)
);
`

// migrationEmbeddings creates the vector-search table keyed by
// (content_kind, content_id, chunk_index) per §6.4, plus an FTS5 virtual
// table as a keyword-search fallback (the teacher's agents/rag/store.go
// pattern: triggers keep the FTS index in sync with the base table rather
// than recomputing it per query).
const migrationEmbeddings = `
CREATE TABLE IF NOT EXISTS embeddings (
    content_kind TEXT NOT NULL,
    content_id TEXT NOT NULL,
    chunk_index INTEGER NOT NULL,
    chunk_text TEXT NOT NULL,
    vector BLOB NOT NULL,
    metadata TEXT,
    content_hash TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (content_kind, content_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_embeddings_content ON embeddings(content_kind, content_id);

CREATE VIRTUAL TABLE IF NOT EXISTS embeddings_fts USING fts5(
    content_kind UNINDEXED,
    content_id UNINDEXED,
    chunk_index UNINDEXED,
    chunk_text,
    content='embeddings',
    content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS embeddings_ai AFTER INSERT ON embeddings BEGIN
    INSERT INTO embeddings_fts(rowid, content_kind, content_id, chunk_index, chunk_text)
    VALUES (new.rowid, new.content_kind, new.content_id, new.chunk_index, new.chunk_text);
END;

CREATE TRIGGER IF NOT EXISTS embeddings_ad AFTER DELETE ON embeddings BEGIN
    INSERT INTO embeddings_fts(embeddings_fts, rowid, content_kind, content_id, chunk_index, chunk_text)
    VALUES ('delete', old.rowid, old.content_kind, old.content_id, old.chunk_index, old.chunk_text);
END;

CREATE TRIGGER IF NOT EXISTS embeddings_au AFTER UPDATE ON embeddings BEGIN
    INSERT INTO embeddings_fts(embeddings_fts, rowid, content_kind, content_id, chunk_index, chunk_text)
    VALUES ('delete', old.rowid, old.content_kind, old.content_id, old.chunk_index, old.chunk_text);
    INSERT INTO embeddings_fts(rowid, content_kind, content_id, chunk_index, chunk_text)
    VALUES (new.rowid, new.content_kind, new.content_id, new.chunk_index, new.chunk_text);
END;
`

// migrationAuditLog adapts the teacher's agent_audit_log table
// (internal/db/sqlite.go migration5) to record one row per agent worker
// task execution (SPEC_FULL.md §12 supplemented feature).
const migrationAuditLog = `
CREATE TABLE IF NOT EXISTS agent_audit_log (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL,
    agent_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    event_data TEXT,
    duration_ms INTEGER,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_audit_log_task ON agent_audit_log(task_id);
CREATE INDEX IF NOT EXISTS idx_audit_log_agent ON agent_audit_log(agent_id);
`
