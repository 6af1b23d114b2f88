package domain

import (
	"context"
	"time"
)

// MediaPage — страница выдачи каталога по тайтлам.
type MediaPage struct {
	Media       []Media
	HasNextPage bool
}

// CharacterPage — страница выдачи каталога по персонажам тайтла.
type CharacterPage struct {
	Characters  []Character
	HasNextPage bool
}

// CatalogClient — внешний медиа-каталог. Реализация обязана ограниченно
// повторять запросы при rate limit с фиксированной паузой.
type CatalogClient interface {
	MediaByPopularity(ctx context.Context, bracket Bracket, page int) (MediaPage, error)
	CharactersByMedia(ctx context.Context, mediaID string, page int) (CharacterPage, error)
	CharacterByID(ctx context.Context, id string) (Character, error)
}

// BracketCache хранит предрасчитанные пулы, пересобираемые фоновым индексером.
type BracketCache interface {
	Pool(ctx context.Context, bracket Bracket, bucket PoolBucket) ([]PoolEntry, error)
	Store(ctx context.Context, bracket Bracket, buckets map[PoolBucket][]PoolEntry) error
}

// PackRegistry отдаёт установленные паки гильдии и отвечает на вопрос, отключён
// ли персонаж/тайтл конфликт-листом какого-либо пака.
type PackRegistry interface {
	ListInstalled(ctx context.Context, guildID string) ([]Pack, error)
	IsDisabled(ctx context.Context, guildID, id string) (bool, error)
}

// PackRepo — персистентное хранилище паков.
type PackRepo interface {
	InstallPack(ctx context.Context, guildID string, pack Pack) error
	UninstallPack(ctx context.Context, guildID, packID string) error
	ListPacks(ctx context.Context, guildID string) ([]Pack, error)
}

// InventoryRepo — хранилище инвентарей. Все Commit* выполняют условную запись:
// строка обновляется только если её версия совпала с expected, иначе
// возвращается ErrVersionConflict.
type InventoryRepo interface {
	GetInventory(ctx context.Context, guildID, userID string) (Inventory, error)
	ListCharacters(ctx context.Context, guildID, userID string) ([]InventoryCharacter, error)
	FindCharacter(ctx context.Context, guildID, characterID string) (InventoryCharacter, error)
	CommitInventory(ctx context.Context, inv Inventory, expected int64) error
	CommitPull(ctx context.Context, inv Inventory, expected int64, card InventoryCharacter) error
	CommitMerge(ctx context.Context, inv Inventory, expected int64, sacrificeIDs []string) error
	CommitTrade(ctx context.Context, give, take Inventory, expectedGive, expectedTake int64, giveCards, takeCards []string) error
	ListLikes(ctx context.Context, guildID, characterID, exceptUserID string) ([]string, error)
}

// Cache — простое byte-хранилище с явной инвалидацией. TTL 0 означает
// бессрочное хранение.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error
}

// RebuildQueue — очередь задач пересборки пулов.
type RebuildQueue interface {
	Enqueue(ctx context.Context, job RebuildJob) error
	Pop(ctx context.Context) (RebuildJob, error)
}
