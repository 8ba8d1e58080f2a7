package db

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- SESSION TABLE (tree and species runs)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS session SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS kind ON session TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON session TYPE string;
    -- Run options as submitted; new option fields must not need a migration
    DEFINE FIELD IF NOT EXISTS options ON session TYPE object FLEXIBLE;
    -- Sample order of the distance matrix, fixed once the run has started
    DEFINE FIELD IF NOT EXISTS samples ON session TYPE array<string> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS total ON session TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS progress ON session TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS newick ON session TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS error ON session TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS started_at ON session TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS completed_at ON session TYPE option<datetime>;

    DEFINE INDEX IF NOT EXISTS session_status ON session FIELDS status;
    DEFINE INDEX IF NOT EXISTS session_started ON session FIELDS started_at;
`
