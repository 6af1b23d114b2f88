package packs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/leoodz/fable/internal/domain"
)

type memPackRepo struct {
	packs map[string][]domain.Pack
	lists int
}

func newMemPackRepo() *memPackRepo {
	return &memPackRepo{packs: make(map[string][]domain.Pack)}
}

func (m *memPackRepo) InstallPack(_ context.Context, guildID string, pack domain.Pack) error {
	m.packs[guildID] = append(m.packs[guildID], pack)
	return nil
}

func (m *memPackRepo) UninstallPack(_ context.Context, guildID, packID string) error {
	kept := m.packs[guildID][:0]
	for _, p := range m.packs[guildID] {
		if p.ID != packID {
			kept = append(kept, p)
		}
	}
	m.packs[guildID] = kept
	return nil
}

func (m *memPackRepo) ListPacks(_ context.Context, guildID string) ([]domain.Pack, error) {
	m.lists++
	return m.packs[guildID], nil
}

type memCache struct {
	data map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, error) {
	raw, ok := c.data[key]
	if !ok {
		return nil, errors.New("cache miss")
	}
	return raw, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.data[key] = value
	return nil
}

func (c *memCache) Invalidate(_ context.Context, key string) error {
	delete(c.data, key)
	return nil
}

func (c *memCache) Once(_ context.Context, key string, _ time.Duration, fn func() error) error {
	if _, ok := c.data[key]; ok {
		return nil
	}
	c.data[key] = []byte("1")
	return fn()
}

func TestInstallRejectsReservedID(t *testing.T) {
	svc := NewService(newMemPackRepo(), newMemCache(), zerolog.Nop())

	if err := svc.Install(context.Background(), "g1", domain.Pack{ID: ""}); err == nil {
		t.Fatalf("пустой идентификатор должен отклоняться")
	}
	if err := svc.Install(context.Background(), "g1", domain.Pack{ID: domain.PackAniList}); err == nil {
		t.Fatalf("идентификатор встроенного каталога зарезервирован")
	}
}

func TestListInstalledUsesCache(t *testing.T) {
	repo := newMemPackRepo()
	svc := NewService(repo, newMemCache(), zerolog.Nop())

	if err := svc.Install(context.Background(), "g1", domain.Pack{ID: "vtubers", Title: "VTubers"}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	for i := 0; i < 3; i++ {
		installed, err := svc.ListInstalled(context.Background(), "g1")
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		if len(installed) != 1 || installed[0].ID != "vtubers" {
			t.Fatalf("неожиданный список паков: %+v", installed)
		}
	}
	if repo.lists != 1 {
		t.Fatalf("повторные чтения должны идти из кэша, хранилище опрошено %d раз", repo.lists)
	}
}

func TestUninstallInvalidatesCache(t *testing.T) {
	repo := newMemPackRepo()
	cache := newMemCache()
	svc := NewService(repo, cache, zerolog.Nop())

	if err := svc.Install(context.Background(), "g1", domain.Pack{ID: "vtubers"}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := svc.ListInstalled(context.Background(), "g1"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := svc.Uninstall(context.Background(), "g1", "vtubers"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	installed, err := svc.ListInstalled(context.Background(), "g1")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(installed) != 0 {
		t.Fatalf("после удаления список должен опустеть: %+v", installed)
	}
}

func TestUninstallUnknownPack(t *testing.T) {
	svc := NewService(newMemPackRepo(), newMemCache(), zerolog.Nop())

	if err := svc.Uninstall(context.Background(), "g1", "missing"); !errors.Is(err, ErrPackNotFound) {
		t.Fatalf("ожидали ErrPackNotFound, получили %v", err)
	}
}

func TestIsDisabled(t *testing.T) {
	repo := newMemPackRepo()
	svc := NewService(repo, newMemCache(), zerolog.Nop())

	pack := domain.Pack{ID: "vtubers", Conflicts: []string{"anilist:123"}}
	if err := svc.Install(context.Background(), "g1", pack); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	disabled, err := svc.IsDisabled(context.Background(), "g1", "anilist:123")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !disabled {
		t.Fatalf("идентификатор из конфликт-листа должен быть отключён")
	}

	disabled, err = svc.IsDisabled(context.Background(), "g1", "anilist:456")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if disabled {
		t.Fatalf("посторонний идентификатор не должен быть отключён")
	}
}
