package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PackAniList — идентификатор встроенного каталога AniList.
const PackAniList = "anilist"

// Role описывает роль персонажа в привязанном тайтле.
type Role string

const (
	RoleMain       Role = "MAIN"
	RoleSupporting Role = "SUPPORTING"
	RoleBackground Role = "BACKGROUND"
)

// PoolBucket — корзина предрасчитанного пула внутри одного диапазона популярности.
type PoolBucket string

const (
	BucketAll        PoolBucket = "ALL"
	BucketMain       PoolBucket = "MAIN"
	BucketSupporting PoolBucket = "SUPPORTING"
	BucketBackground PoolBucket = "BACKGROUND"
)

// BucketForRole возвращает корзину, соответствующую роли.
func BucketForRole(role Role) PoolBucket {
	switch role {
	case RoleMain:
		return BucketMain
	case RoleSupporting:
		return BucketSupporting
	case RoleBackground:
		return BucketBackground
	default:
		return BucketAll
	}
}

// Bracket задаёт полуинтервал популярности [Lo, Hi). Hi <= 0 означает открытую
// верхнюю границу.
type Bracket struct {
	Lo int
	Hi int
}

// Contains проверяет попадание популярности в диапазон.
func (b Bracket) Contains(popularity int) bool {
	if popularity < b.Lo {
		return false
	}
	if b.Hi <= 0 {
		return true
	}
	return popularity < b.Hi
}

// Key возвращает JSON-ключ диапазона, под которым хранится предрасчитанный пул.
func (b Bracket) Key() string {
	var hi any
	if b.Hi > 0 {
		hi = b.Hi
	}
	raw, _ := json.Marshal([2]any{b.Lo, hi})
	return string(raw)
}

// String используется в логах и сообщениях об ошибках.
func (b Bracket) String() string {
	if b.Hi <= 0 {
		return fmt.Sprintf("%d+", b.Lo)
	}
	return fmt.Sprintf("%d-%d", b.Lo, b.Hi)
}

// PoolEntry — единица, которой оперируют сборщик пула и сэмплер.
type PoolEntry struct {
	ID      string `json:"id"`      // "packId:characterId"
	MediaID string `json:"mediaId"` // "packId:mediaId"
	Rating  int    `json:"rating"`
}

// Media описывает тайтл каталога или установленного пака.
type Media struct {
	PackID     string
	ID         string
	Title      string
	Format     string
	Popularity *int
	Adult      bool
}

// Key возвращает составной идентификатор "packId:mediaId".
func (m Media) Key() string { return m.PackID + ":" + m.ID }

// MediaEdge связывает персонажа с тайтлом и ролью в нём.
type MediaEdge struct {
	Role  Role
	Media Media
}

// CharacterRef — плоская ссылка на персонажа до разрешения в полную форму.
type CharacterRef struct {
	PackID string
	ID     string
}

// Key возвращает составной идентификатор "packId:characterId".
func (r CharacterRef) Key() string { return r.PackID + ":" + r.ID }

// ParseRef разбирает составной идентификатор обратно в ссылку.
func ParseRef(key string) (CharacterRef, error) {
	pack, id, ok := strings.Cut(key, ":")
	if !ok || pack == "" || id == "" {
		return CharacterRef{}, fmt.Errorf("bad character id %q", key)
	}
	return CharacterRef{PackID: pack, ID: id}, nil
}

// Character — полностью разрешённый персонаж. Media отсортированы по убыванию
// популярности тайтла; первое ребро считается основным и фиксирует рейтинг
// карты в момент пулла.
type Character struct {
	PackID   string
	ID       string
	Name     string
	Aliases  []string
	ImageURL string
	Media    []MediaEdge
}

// Key возвращает составной идентификатор персонажа.
func (c Character) Key() string { return c.PackID + ":" + c.ID }

// PrimaryEdge возвращает основное медиа-ребро персонажа.
func (c Character) PrimaryEdge() (MediaEdge, bool) {
	if len(c.Media) == 0 {
		return MediaEdge{}, false
	}
	return c.Media[0], true
}

// InventoryCharacter — карта, принадлежащая пользователю. Rating и MediaID
// фиксируются при создании и больше не меняются.
type InventoryCharacter struct {
	ID          string
	GuildID     string
	UserID      string
	CharacterID string
	MediaID     string
	Rating      int
	Nickname    string
	ImageURL    string
	CreatedAt   time.Time
}

// Inventory — единственное разделяемое изменяемое состояние ядра. Все мутации
// проходят через условную запись по Version.
type Inventory struct {
	GuildID         string
	UserID          string
	Version         int64
	AvailablePulls  int
	RechargeAt      *time.Time
	LastPullAt      *time.Time
	StealCooldownAt *time.Time
	Guarantees      []int
	Party           []string
	Likes           []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasGuarantee проверяет наличие токена гарантии нужной редкости.
func (inv Inventory) HasGuarantee(stars int) bool {
	for _, g := range inv.Guarantees {
		if g == stars {
			return true
		}
	}
	return false
}

// ConsumeGuarantee удаляет один токен указанной редкости.
func (inv *Inventory) ConsumeGuarantee(stars int) bool {
	for i, g := range inv.Guarantees {
		if g == stars {
			inv.Guarantees = append(inv.Guarantees[:i], inv.Guarantees[i+1:]...)
			return true
		}
	}
	return false
}

// InParty проверяет, защищён ли персонаж партией пользователя.
func (inv Inventory) InParty(characterID string) bool {
	for _, id := range inv.Party {
		if id == characterID {
			return true
		}
	}
	return false
}

// Liked проверяет, находится ли персонаж в списке желаемого.
func (inv Inventory) Liked(characterID string) bool {
	for _, id := range inv.Likes {
		if id == characterID {
			return true
		}
	}
	return false
}

// Pull — результат одного розыгрыша.
type Pull struct {
	Card       InventoryCharacter
	Character  Character
	Media      Media
	Remaining  int
	Guarantees []int
	LikedBy    []string
	Committed  bool
}

// SacrificeGroup — эфемерный результат группировки жертв для синтеза.
type SacrificeGroup struct {
	Sacrifices []InventoryCharacter
	Target     int
}

// Pack — устанавливаемый набор персонажей и тайтлов.
type Pack struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Characters  []Character `json:"characters"`
	Media       []Media     `json:"media"`
	Conflicts   []string    `json:"conflicts"`
	InstalledAt time.Time   `json:"-"`
}

// RebuildJob — задача пересборки предрасчитанного пула одного диапазона.
type RebuildJob struct {
	Bracket Bracket `json:"bracket"`
}
