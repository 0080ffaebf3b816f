package database

const createUsersTable = `
CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

const createWalletsTable = `
CREATE TABLE IF NOT EXISTS wallets (
    user_id UUID PRIMARY KEY REFERENCES users(id),
    balance INTEGER NOT NULL DEFAULT 0,
    total_earned INTEGER NOT NULL DEFAULT 0,
    total_spent INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CHECK (balance >= 0),
    CHECK (total_earned >= 0),
    CHECK (total_spent >= 0)
);
`

const createLedgerEntriesTable = `
CREATE TABLE IF NOT EXISTS ledger_entries (
    id UUID PRIMARY KEY,
    user_id UUID NOT NULL REFERENCES users(id),
    entry_type TEXT NOT NULL CHECK (entry_type IN (
        'purchase', 'spend', 'refund', 'tip_sent', 'tip_received', 'bonus'
    )),
    amount INTEGER NOT NULL,
    balance_after INTEGER NOT NULL,
    creation_id UUID,
    reference TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// One refund per creation, enforced at the storage layer as a backstop for
// the idempotency check in the lifecycle service.
const createLedgerRefundIndex = `
CREATE UNIQUE INDEX IF NOT EXISTS ledger_entries_refund_once
    ON ledger_entries (creation_id) WHERE entry_type = 'refund';
`

// External payment references credit at most once.
const createLedgerReferenceIndex = `
CREATE UNIQUE INDEX IF NOT EXISTS ledger_entries_reference_once
    ON ledger_entries (reference) WHERE reference IS NOT NULL;
`

const createLedgerUserIndex = `
CREATE INDEX IF NOT EXISTS ledger_entries_user_created
    ON ledger_entries (user_id, created_at DESC);
`

const createCreationsTable = `
CREATE TABLE IF NOT EXISTS creations (
    id UUID PRIMARY KEY,
    owner_id UUID NOT NULL REFERENCES users(id),
    media_type TEXT NOT NULL CHECK (media_type IN ('image', 'video')),
    prompt TEXT NOT NULL,
    cost INTEGER NOT NULL CHECK (cost > 0),
    status TEXT NOT NULL CHECK (status IN (
        'pending', 'processing', 'draft', 'failed', 'published'
    )),
    media_ref TEXT,
    caption TEXT,
    error TEXT,
    refunded BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    processing_started_at TIMESTAMPTZ,
    completed_at TIMESTAMPTZ,
    published_at TIMESTAMPTZ
);
`

const createCreationsOwnerIndex = `
CREATE INDEX IF NOT EXISTS creations_owner_created
    ON creations (owner_id, created_at DESC);
`

// Serves the orphan sweep query.
const createCreationsProcessingIndex = `
CREATE INDEX IF NOT EXISTS creations_processing_started
    ON creations (processing_started_at) WHERE status = 'processing';
`

const createCreationsPublishedIndex = `
CREATE INDEX IF NOT EXISTS creations_published_at
    ON creations (published_at DESC) WHERE status = 'published';
`

var schemaStatements = []string{
	createUsersTable,
	createWalletsTable,
	createLedgerEntriesTable,
	createLedgerRefundIndex,
	createLedgerReferenceIndex,
	createLedgerUserIndex,
	createCreationsTable,
	createCreationsOwnerIndex,
	createCreationsProcessingIndex,
	createCreationsPublishedIndex,
}
