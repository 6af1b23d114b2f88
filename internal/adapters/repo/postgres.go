package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leoodz/fable/internal/domain"
	"github.com/leoodz/fable/internal/infra/metrics"
)

// Postgres реализует domain.InventoryRepo и domain.PackRepo на основе pgxpool.
type Postgres struct {
	pool         *pgxpool.Pool
	defaultPulls int
}

var _ domain.InventoryRepo = (*Postgres)(nil)
var _ domain.PackRepo = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД. defaultPulls — стартовый бюджет нового
// инвентаря.
func NewPostgres(pool *pgxpool.Pool, defaultPulls int) *Postgres {
	return &Postgres{pool: pool, defaultPulls: defaultPulls}
}

func (p *Postgres) connCtx(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if _, ok := parent.Deadline(); ok {
		return parent, func() {}
	}
	return context.WithTimeout(parent, 5*time.Second)
}

// EnsureSchema создаёт таблицы, если их ещё нет.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	_, err := p.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS inventories (
	guild_id          TEXT        NOT NULL,
	user_id           TEXT        NOT NULL,
	version           BIGINT      NOT NULL DEFAULT 0,
	available_pulls   INT         NOT NULL,
	recharge_at       TIMESTAMPTZ,
	last_pull_at      TIMESTAMPTZ,
	steal_cooldown_at TIMESTAMPTZ,
	guarantees        INT[]       NOT NULL DEFAULT '{}',
	party             TEXT[]      NOT NULL DEFAULT '{}',
	likes             TEXT[]      NOT NULL DEFAULT '{}',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (guild_id, user_id)
);
CREATE TABLE IF NOT EXISTS inventory_characters (
	id           UUID        PRIMARY KEY,
	guild_id     TEXT        NOT NULL,
	user_id      TEXT        NOT NULL,
	character_id TEXT        NOT NULL,
	media_id     TEXT        NOT NULL,
	rating       INT         NOT NULL,
	nickname     TEXT        NOT NULL DEFAULT '',
	image_url    TEXT        NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (guild_id, character_id)
);
CREATE INDEX IF NOT EXISTS idx_inventory_characters_owner
	ON inventory_characters (guild_id, user_id);
CREATE TABLE IF NOT EXISTS guild_packs (
	guild_id     TEXT        NOT NULL,
	pack_id      TEXT        NOT NULL,
	manifest     JSONB       NOT NULL,
	installed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (guild_id, pack_id)
);
`)
	return err
}

// GetInventory возвращает инвентарь, создавая запись по умолчанию при первом
// обращении.
func (p *Postgres) GetInventory(ctx context.Context, guildID, userID string) (domain.Inventory, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO inventories (guild_id, user_id, available_pulls)
VALUES ($1, $2, $3)
ON CONFLICT (guild_id, user_id) DO NOTHING
`, guildID, userID, p.defaultPulls)
	if err != nil {
		metrics.ObserveNetworkRequest("postgres", "inventory_upsert", "inventories", start, err)
		return domain.Inventory{}, err
	}

	row := p.pool.QueryRow(ctx, `
SELECT guild_id, user_id, version, available_pulls, recharge_at, last_pull_at,
       steal_cooldown_at, guarantees, party, likes, created_at, updated_at
FROM inventories
WHERE guild_id = $1 AND user_id = $2
`, guildID, userID)

	inv, err := scanInventory(row)
	metrics.ObserveNetworkRequest("postgres", "inventory_get", "inventories", start, err)
	return inv, err
}

func scanInventory(row pgx.Row) (domain.Inventory, error) {
	var (
		inv        domain.Inventory
		recharge   sql.NullTime
		lastPull   sql.NullTime
		cooldown   sql.NullTime
		guarantees []int32
	)
	err := row.Scan(&inv.GuildID, &inv.UserID, &inv.Version, &inv.AvailablePulls,
		&recharge, &lastPull, &cooldown, &guarantees, &inv.Party, &inv.Likes,
		&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return domain.Inventory{}, err
	}
	if recharge.Valid {
		inv.RechargeAt = &recharge.Time
	}
	if lastPull.Valid {
		inv.LastPullAt = &lastPull.Time
	}
	if cooldown.Valid {
		inv.StealCooldownAt = &cooldown.Time
	}
	inv.Guarantees = make([]int, 0, len(guarantees))
	for _, g := range guarantees {
		inv.Guarantees = append(inv.Guarantees, int(g))
	}
	return inv, nil
}

// ListCharacters возвращает все карты пользователя.
func (p *Postgres) ListCharacters(ctx context.Context, guildID, userID string) ([]domain.InventoryCharacter, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, guild_id, user_id, character_id, media_id, rating, nickname, image_url, created_at
FROM inventory_characters
WHERE guild_id = $1 AND user_id = $2
ORDER BY created_at
`, guildID, userID)
	metrics.ObserveNetworkRequest("postgres", "characters_list", "inventory_characters", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []domain.InventoryCharacter
	for rows.Next() {
		var card domain.InventoryCharacter
		if err := rows.Scan(&card.ID, &card.GuildID, &card.UserID, &card.CharacterID,
			&card.MediaID, &card.Rating, &card.Nickname, &card.ImageURL, &card.CreatedAt); err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

// FindCharacter ищет карту по составному идентификатору персонажа.
func (p *Postgres) FindCharacter(ctx context.Context, guildID, characterID string) (domain.InventoryCharacter, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var card domain.InventoryCharacter
	err := p.pool.QueryRow(ctx, `
SELECT id, guild_id, user_id, character_id, media_id, rating, nickname, image_url, created_at
FROM inventory_characters
WHERE guild_id = $1 AND character_id = $2
`, guildID, characterID).Scan(&card.ID, &card.GuildID, &card.UserID, &card.CharacterID,
		&card.MediaID, &card.Rating, &card.Nickname, &card.ImageURL, &card.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.InventoryCharacter{}, domain.ErrCharacterNotFound
	}
	return card, err
}

// commitInventoryTx выполняет условную запись инвентаря внутри транзакции.
func commitInventoryTx(ctx context.Context, tx pgx.Tx, inv domain.Inventory, expected int64) error {
	guarantees := make([]int32, 0, len(inv.Guarantees))
	for _, g := range inv.Guarantees {
		guarantees = append(guarantees, int32(g))
	}

	tag, err := tx.Exec(ctx, `
UPDATE inventories
SET version = $3, available_pulls = $4, recharge_at = $5, last_pull_at = $6,
    steal_cooldown_at = $7, guarantees = $8, party = $9, likes = $10, updated_at = now()
WHERE guild_id = $1 AND user_id = $2 AND version = $11
`, inv.GuildID, inv.UserID, inv.Version, inv.AvailablePulls, inv.RechargeAt,
		inv.LastPullAt, inv.StealCooldownAt, guarantees, inv.Party, inv.Likes, expected)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

func (p *Postgres) inTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		metrics.ObserveNetworkRequest("postgres", op, "inventories", start, err)
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		metrics.ObserveNetworkRequest("postgres", op, "inventories", start, err)
		return err
	}
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", op, "inventories", start, err)
	return err
}

// CommitInventory обновляет только саму запись инвентаря.
func (p *Postgres) CommitInventory(ctx context.Context, inv domain.Inventory, expected int64) error {
	return p.inTx(ctx, "inventory_commit", func(tx pgx.Tx) error {
		return commitInventoryTx(ctx, tx, inv, expected)
	})
}

// CommitPull атомарно списывает бюджет и вставляет новую карту.
func (p *Postgres) CommitPull(ctx context.Context, inv domain.Inventory, expected int64, card domain.InventoryCharacter) error {
	return p.inTx(ctx, "pull_commit", func(tx pgx.Tx) error {
		if err := commitInventoryTx(ctx, tx, inv, expected); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
INSERT INTO inventory_characters (id, guild_id, user_id, character_id, media_id, rating, nickname, image_url, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`, card.ID, card.GuildID, card.UserID, card.CharacterID, card.MediaID,
			card.Rating, card.Nickname, card.ImageURL, card.CreatedAt)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Гонка на одного персонажа: карта уже кому-то досталась.
			return fmt.Errorf("character %s already owned: %w", card.CharacterID, err)
		}
		return err
	})
}

// CommitMerge атомарно сжигает жертв и записывает новое состояние инвентаря.
// Если хоть одна жертва уже исчезла, транзакция откатывается как конфликт,
// чтобы вызывающий цикл пересобрал группу.
func (p *Postgres) CommitMerge(ctx context.Context, inv domain.Inventory, expected int64, sacrificeIDs []string) error {
	return p.inTx(ctx, "merge_commit", func(tx pgx.Tx) error {
		if err := commitInventoryTx(ctx, tx, inv, expected); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
DELETE FROM inventory_characters
WHERE guild_id = $1 AND user_id = $2 AND id = ANY($3)
`, inv.GuildID, inv.UserID, sacrificeIDs)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != int64(len(sacrificeIDs)) {
			return domain.ErrVersionConflict
		}
		return nil
	})
}

// CommitTrade переносит карты между двумя инвентарями под защитой обеих
// версий.
func (p *Postgres) CommitTrade(ctx context.Context, give, take domain.Inventory, expectedGive, expectedTake int64, giveCards, takeCards []string) error {
	return p.inTx(ctx, "trade_commit", func(tx pgx.Tx) error {
		if err := commitInventoryTx(ctx, tx, give, expectedGive); err != nil {
			return err
		}
		if err := commitInventoryTx(ctx, tx, take, expectedTake); err != nil {
			return err
		}
		if err := transferCards(ctx, tx, give.GuildID, give.UserID, take.UserID, giveCards); err != nil {
			return err
		}
		return transferCards(ctx, tx, take.GuildID, take.UserID, give.UserID, takeCards)
	})
}

func transferCards(ctx context.Context, tx pgx.Tx, guildID, fromID, toID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tag, err := tx.Exec(ctx, `
UPDATE inventory_characters
SET user_id = $4
WHERE guild_id = $1 AND user_id = $2 AND id = ANY($3)
`, guildID, fromID, ids, toID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != int64(len(ids)) {
		return domain.ErrVersionConflict
	}
	return nil
}

// ListLikes возвращает пользователей, добавивших персонажа в список желаемого.
func (p *Postgres) ListLikes(ctx context.Context, guildID, characterID, exceptUserID string) ([]string, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	rows, err := p.pool.Query(ctx, `
SELECT user_id FROM inventories
WHERE guild_id = $1 AND $2 = ANY(likes) AND user_id <> $3
`, guildID, characterID, exceptUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// InstallPack сохраняет манифест пака гильдии.
func (p *Postgres) InstallPack(ctx context.Context, guildID string, pack domain.Pack) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	manifest, err := json.Marshal(pack)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	start := time.Now()
	_, err = p.pool.Exec(ctx, `
INSERT INTO guild_packs (guild_id, pack_id, manifest)
VALUES ($1, $2, $3)
ON CONFLICT (guild_id, pack_id) DO UPDATE SET manifest = EXCLUDED.manifest
`, guildID, pack.ID, manifest)
	metrics.ObserveNetworkRequest("postgres", "pack_install", "guild_packs", start, err)
	return err
}

// UninstallPack удаляет пак гильдии.
func (p *Postgres) UninstallPack(ctx context.Context, guildID, packID string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
DELETE FROM guild_packs WHERE guild_id = $1 AND pack_id = $2
`, guildID, packID)
	metrics.ObserveNetworkRequest("postgres", "pack_uninstall", "guild_packs", start, err)
	return err
}

// ListPacks возвращает установленные паки гильдии.
func (p *Postgres) ListPacks(ctx context.Context, guildID string) ([]domain.Pack, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT manifest, installed_at FROM guild_packs WHERE guild_id = $1 ORDER BY installed_at
`, guildID)
	metrics.ObserveNetworkRequest("postgres", "pack_list", "guild_packs", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var packs []domain.Pack
	for rows.Next() {
		var (
			manifest    []byte
			installedAt time.Time
		)
		if err := rows.Scan(&manifest, &installedAt); err != nil {
			return nil, err
		}
		var pack domain.Pack
		if err := json.Unmarshal(manifest, &pack); err != nil {
			return nil, fmt.Errorf("decode manifest: %w", err)
		}
		pack.InstalledAt = installedAt
		packs = append(packs, pack)
	}
	return packs, rows.Err()
}
