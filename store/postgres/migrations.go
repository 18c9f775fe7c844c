package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the settle store.
var Migrations = migrate.NewGroup("settle")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_settle_receipts",
			Version: "20240101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS settle_receipts (
    id         TEXT PRIMARY KEY,
    owner_id   TEXT NOT NULL DEFAULT '',
    status     TEXT NOT NULL DEFAULT 'open',
    currency   TEXT NOT NULL DEFAULT '',
    version    BIGINT NOT NULL DEFAULT 1,
    document   JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_settle_receipts_owner ON settle_receipts (owner_id);
CREATE INDEX IF NOT EXISTS idx_settle_receipts_status ON settle_receipts (owner_id, status);
CREATE INDEX IF NOT EXISTS idx_settle_receipts_participants ON settle_receipts USING GIN ((document->'participant_ids'));
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS settle_receipts`)
				return err
			},
		},
	)
}
