package packs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/leoodz/fable/internal/domain"
)

// ErrPackNotFound возвращается при удалении не установленного пака.
var ErrPackNotFound = errors.New("pack is not installed")

// globalConflicts — персонажи и тайтлы, отключённые во всех гильдиях.
var globalConflicts = map[string]struct{}{}

// Service управляет установкой паков и кэшем списка паков гильдии. Кэш живёт
// без TTL и инвалидируется явно при каждой мутации; до инвалидации читатели
// могут видеть устаревший конфликт-лист.
type Service struct {
	repo  domain.PackRepo
	cache domain.Cache
	log   zerolog.Logger
}

var _ domain.PackRegistry = (*Service)(nil)

// NewService создаёт сервис паков.
func NewService(repo domain.PackRepo, cache domain.Cache, log zerolog.Logger) *Service {
	return &Service{repo: repo, cache: cache, log: log}
}

func cacheKey(guildID string) string { return "packs:" + guildID }

// Install устанавливает пак в гильдию и сбрасывает кэш.
func (s *Service) Install(ctx context.Context, guildID string, pack domain.Pack) error {
	if pack.ID == "" || pack.ID == domain.PackAniList {
		return fmt.Errorf("bad pack id %q", pack.ID)
	}
	if err := s.repo.InstallPack(ctx, guildID, pack); err != nil {
		return fmt.Errorf("install pack: %w", err)
	}
	if err := s.cache.Invalidate(ctx, cacheKey(guildID)); err != nil {
		s.log.Warn().Err(err).Str("guild", guildID).Msg("не удалось сбросить кэш паков")
	}
	return nil
}

// Uninstall удаляет пак из гильдии и сбрасывает кэш.
func (s *Service) Uninstall(ctx context.Context, guildID, packID string) error {
	installed, err := s.repo.ListPacks(ctx, guildID)
	if err != nil {
		return fmt.Errorf("list packs: %w", err)
	}
	found := false
	for _, p := range installed {
		if p.ID == packID {
			found = true
			break
		}
	}
	if !found {
		return ErrPackNotFound
	}

	if err := s.repo.UninstallPack(ctx, guildID, packID); err != nil {
		return fmt.Errorf("uninstall pack: %w", err)
	}
	if err := s.cache.Invalidate(ctx, cacheKey(guildID)); err != nil {
		s.log.Warn().Err(err).Str("guild", guildID).Msg("не удалось сбросить кэш паков")
	}
	return nil
}

// ListInstalled возвращает паки гильдии, проходя через кэш.
func (s *Service) ListInstalled(ctx context.Context, guildID string) ([]domain.Pack, error) {
	key := cacheKey(guildID)
	if raw, err := s.cache.Get(ctx, key); err == nil && len(raw) > 0 {
		var cached []domain.Pack
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
	}

	installed, err := s.repo.ListPacks(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("list packs: %w", err)
	}

	if raw, err := json.Marshal(installed); err == nil {
		if err := s.cache.Set(ctx, key, raw, 0); err != nil {
			s.log.Warn().Err(err).Str("guild", guildID).Msg("не удалось записать кэш паков")
		}
	}
	return installed, nil
}

// IsDisabled отвечает, отключён ли идентификатор конфликт-листом какого-либо
// установленного пака или глобальным списком.
func (s *Service) IsDisabled(ctx context.Context, guildID, id string) (bool, error) {
	if _, ok := globalConflicts[id]; ok {
		return true, nil
	}
	installed, err := s.ListInstalled(ctx, guildID)
	if err != nil {
		return false, err
	}
	for _, pack := range installed {
		for _, conflict := range pack.Conflicts {
			if conflict == id {
				return true, nil
			}
		}
	}
	return false, nil
}
