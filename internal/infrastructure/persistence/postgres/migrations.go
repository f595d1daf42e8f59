package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE DOCUMENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Generated documents, one row per successful generation
CREATE TABLE IF NOT EXISTS documents (
    id UUID PRIMARY KEY,
    type VARCHAR(32) NOT NULL,
    slug VARCHAR(255) NOT NULL,
    output_path TEXT NOT NULL,
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
    char_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_type CHECK (type IN ('lesson', 'report', 'parent_message')),
    CONSTRAINT valid_char_count CHECK (char_count >= 0)
);

CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_documents_type_created ON documents(type, created_at DESC);
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: REPORT STUDENT INDEX
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Reports are looked up by student
CREATE INDEX IF NOT EXISTS idx_documents_student
    ON documents ((metadata->>'student_name'))
    WHERE type = 'report';
`

// GetMigrations returns all embedded migrations in version order.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_documents",
			UpSQL:   migration001Up,
		},
		{
			Version: 2,
			Name:    "index_report_students",
			UpSQL:   migration002Up,
		},
	}
}
