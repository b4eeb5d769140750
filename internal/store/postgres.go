package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/contractwatch/internal/model"
)

// PostgresBackend はスナップショットをPostgreSQLに保存するバックエンド。
// store_usersテーブルにrequesterごとのセッションリストを、
// store_pendingテーブルにPendingLinkをJSONBドキュメントとして保持する。
// フルスナップショット書き込みのセマンティクスを維持するため、
// Saveは単一トランザクションで全行を入れ替える。
type PostgresBackend struct {
	db *sql.DB
}

// NewPostgresBackend はPostgresBackendを生成する。
// テーブルはdatabase.RunMigrationsで事前に作成されている必要がある。
func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// Load は全ドキュメントを読み込んでスナップショットを構築する。
func (b *PostgresBackend) Load() (*snapshot, error) {
	ctx := context.Background()
	snap := newSnapshot()

	rows, err := b.db.QueryContext(ctx, `SELECT requester_id, doc FROM store_users`)
	if err != nil {
		return nil, fmt.Errorf("failed to load store_users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var requesterID string
		var doc []byte
		if err := rows.Scan(&requesterID, &doc); err != nil {
			return nil, fmt.Errorf("failed to scan store_users row: %w", err)
		}
		var sessions []*model.CharacterSession
		if err := json.Unmarshal(doc, &sessions); err != nil {
			return nil, fmt.Errorf("failed to parse sessions for %s: %w", requesterID, err)
		}
		snap.Users[requesterID] = sessions
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate store_users: %w", err)
	}

	pendingRows, err := b.db.QueryContext(ctx, `SELECT nonce, doc FROM store_pending`)
	if err != nil {
		return nil, fmt.Errorf("failed to load store_pending: %w", err)
	}
	defer pendingRows.Close()

	for pendingRows.Next() {
		var nonce string
		var doc []byte
		if err := pendingRows.Scan(&nonce, &doc); err != nil {
			return nil, fmt.Errorf("failed to scan store_pending row: %w", err)
		}
		var link model.PendingLink
		if err := json.Unmarshal(doc, &link); err != nil {
			return nil, fmt.Errorf("failed to parse pending link %s: %w", nonce, err)
		}
		snap.Pending[nonce] = link
	}
	if err := pendingRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate store_pending: %w", err)
	}

	return snap, nil
}

// Save はスナップショット全体を単一トランザクションで書き込む。
func (b *PostgresBackend) Save(snap *snapshot) error {
	ctx := context.Background()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM store_users`); err != nil {
		return fmt.Errorf("failed to clear store_users: %w", err)
	}
	for requesterID, sessions := range snap.Users {
		doc, err := json.Marshal(sessions)
		if err != nil {
			return fmt.Errorf("failed to marshal sessions for %s: %w", requesterID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO store_users (requester_id, doc, updated_at) VALUES ($1, $2, now())`,
			requesterID, doc,
		); err != nil {
			return fmt.Errorf("failed to insert store_users row: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM store_pending`); err != nil {
		return fmt.Errorf("failed to clear store_pending: %w", err)
	}
	for nonce, link := range snap.Pending {
		doc, err := json.Marshal(link)
		if err != nil {
			return fmt.Errorf("failed to marshal pending link: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO store_pending (nonce, doc, created_at) VALUES ($1, $2, $3)`,
			nonce, doc, link.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert store_pending row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// compile-time interface check
var _ Backend = (*PostgresBackend)(nil)
