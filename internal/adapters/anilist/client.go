package anilist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/leoodz/fable/internal/domain"
	"github.com/leoodz/fable/internal/infra/metrics"
)

// perPage — размер страницы для пагинации каталога.
const perPage = 50

// Client — GraphQL-клиент AniList. Повторяет запрос ограниченное число раз с
// фиксированной паузой при rate limit и серверных ошибках.
type Client struct {
	httpClient *http.Client
	url        string
	retryMax   int
	backoff    time.Duration
	log        zerolog.Logger
}

var _ domain.CatalogClient = (*Client)(nil)

// NewClient создаёт клиент каталога.
func NewClient(url string, retryMax int, backoff time.Duration, log zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		url:        url,
		retryMax:   retryMax,
		backoff:    backoff,
		log:        log,
	}
}

const mediaByPopularityQuery = `
query ($page: Int, $perPage: Int, $popularityGreater: Int, $popularityLesser: Int) {
  Page(page: $page, perPage: $perPage) {
    pageInfo { hasNextPage }
    media(type: ANIME, sort: POPULARITY_DESC, popularity_greater: $popularityGreater, popularity_lesser: $popularityLesser) {
      id
      popularity
      format
      isAdult
      title { english romaji native }
    }
  }
}`

const charactersByMediaQuery = `
query ($id: Int, $page: Int, $perPage: Int) {
  Media(id: $id) {
    characters(page: $page, perPage: $perPage, sort: RELEVANCE) {
      pageInfo { hasNextPage }
      edges {
        node {
          id
          name { full alternative }
          image { large }
          media(sort: POPULARITY_DESC, perPage: 10) {
            edges {
              characterRole
              node {
                id
                popularity
                format
                isAdult
                title { english romaji native }
              }
            }
          }
        }
      }
    }
  }
}`

const characterByIDQuery = `
query ($id: Int) {
  Character(id: $id) {
    id
    name { full alternative }
    image { large }
    media(sort: POPULARITY_DESC, perPage: 10) {
      edges {
        characterRole
        node {
          id
          popularity
          format
          isAdult
          title { english romaji native }
        }
      }
    }
  }
}`

type gqlTitle struct {
	English string `json:"english"`
	Romaji  string `json:"romaji"`
	Native  string `json:"native"`
}

func (t gqlTitle) best() string {
	if t.English != "" {
		return t.English
	}
	if t.Romaji != "" {
		return t.Romaji
	}
	return t.Native
}

type gqlMedia struct {
	ID         int      `json:"id"`
	Popularity *int     `json:"popularity"`
	Format     string   `json:"format"`
	IsAdult    bool     `json:"isAdult"`
	Title      gqlTitle `json:"title"`
}

func (m gqlMedia) toDomain() domain.Media {
	return domain.Media{
		PackID:     domain.PackAniList,
		ID:         strconv.Itoa(m.ID),
		Title:      m.Title.best(),
		Format:     m.Format,
		Popularity: m.Popularity,
		Adult:      m.IsAdult,
	}
}

type gqlMediaEdge struct {
	CharacterRole string   `json:"characterRole"`
	Node          gqlMedia `json:"node"`
}

type gqlCharacter struct {
	ID   int `json:"id"`
	Name struct {
		Full        string   `json:"full"`
		Alternative []string `json:"alternative"`
	} `json:"name"`
	Image struct {
		Large string `json:"large"`
	} `json:"image"`
	Media struct {
		Edges []gqlMediaEdge `json:"edges"`
	} `json:"media"`
}

func (c gqlCharacter) toDomain() domain.Character {
	char := domain.Character{
		PackID:   domain.PackAniList,
		ID:       strconv.Itoa(c.ID),
		Name:     c.Name.Full,
		Aliases:  c.Name.Alternative,
		ImageURL: c.Image.Large,
	}
	for _, edge := range c.Media.Edges {
		char.Media = append(char.Media, domain.MediaEdge{
			Role:  domain.Role(edge.CharacterRole),
			Media: edge.Node.toDomain(),
		})
	}
	return char
}

// MediaByPopularity возвращает страницу тайтлов в диапазоне популярности.
func (c *Client) MediaByPopularity(ctx context.Context, bracket domain.Bracket, page int) (domain.MediaPage, error) {
	vars := map[string]any{
		"page":              page,
		"perPage":           perPage,
		"popularityGreater": bracket.Lo,
	}
	if bracket.Hi > 0 {
		vars["popularityLesser"] = bracket.Hi
	}

	var payload struct {
		Page struct {
			PageInfo struct {
				HasNextPage bool `json:"hasNextPage"`
			} `json:"pageInfo"`
			Media []gqlMedia `json:"media"`
		} `json:"Page"`
	}
	if err := c.query(ctx, "media_by_popularity", mediaByPopularityQuery, vars, &payload); err != nil {
		return domain.MediaPage{}, err
	}

	result := domain.MediaPage{HasNextPage: payload.Page.PageInfo.HasNextPage}
	for _, m := range payload.Page.Media {
		result.Media = append(result.Media, m.toDomain())
	}
	return result, nil
}

// CharactersByMedia возвращает страницу персонажей тайтла. Рёбра каждого
// персонажа уже отсортированы каталогом по убыванию популярности.
func (c *Client) CharactersByMedia(ctx context.Context, mediaID string, page int) (domain.CharacterPage, error) {
	id, err := strconv.Atoi(mediaID)
	if err != nil {
		return domain.CharacterPage{}, fmt.Errorf("bad media id %q: %w", mediaID, err)
	}

	var payload struct {
		Media struct {
			Characters struct {
				PageInfo struct {
					HasNextPage bool `json:"hasNextPage"`
				} `json:"pageInfo"`
				Edges []struct {
					Node gqlCharacter `json:"node"`
				} `json:"edges"`
			} `json:"characters"`
		} `json:"Media"`
	}
	vars := map[string]any{"id": id, "page": page, "perPage": 25}
	if err := c.query(ctx, "characters_by_media", charactersByMediaQuery, vars, &payload); err != nil {
		return domain.CharacterPage{}, err
	}

	result := domain.CharacterPage{HasNextPage: payload.Media.Characters.PageInfo.HasNextPage}
	for _, edge := range payload.Media.Characters.Edges {
		result.Characters = append(result.Characters, edge.Node.toDomain())
	}
	return result, nil
}

// CharacterByID возвращает персонажа с его медиа-рёбрами.
func (c *Client) CharacterByID(ctx context.Context, characterID string) (domain.Character, error) {
	id, err := strconv.Atoi(characterID)
	if err != nil {
		return domain.Character{}, fmt.Errorf("bad character id %q: %w", characterID, err)
	}

	var payload struct {
		Character *gqlCharacter `json:"Character"`
	}
	if err := c.query(ctx, "character_by_id", characterByIDQuery, map[string]any{"id": id}, &payload); err != nil {
		return domain.Character{}, err
	}
	if payload.Character == nil {
		return domain.Character{}, domain.ErrCharacterNotFound
	}
	return payload.Character.toDomain(), nil
}

// query выполняет GraphQL-запрос с ограниченными повторами.
func (c *Client) query(ctx context.Context, operation, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(map[string]any{"query": query, "variables": vars})
	if err != nil {
		return fmt.Errorf("marshal query: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryMax; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(c.backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		start := time.Now()
		lastErr = c.do(ctx, body, out)
		metrics.ObserveNetworkRequest("anilist", operation, "graphql", start, lastErr)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, domain.ErrRateLimited) && !errors.Is(lastErr, errServer) {
			return lastErr
		}
		c.log.Warn().Err(lastErr).Str("operation", operation).Int("attempt", attempt+1).Msg("повтор запроса к каталогу")
	}
	return lastErr
}

// errServer помечает временные серверные ошибки каталога.
var errServer = errors.New("catalog server error")

func (c *Client) do(ctx context.Context, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("catalog request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", errServer, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("catalog status %d: %s", resp.StatusCode, raw)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("catalog error: %s", envelope.Errors[0].Message)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
