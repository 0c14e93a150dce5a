package collab

import (
	"context"
	"fmt"

	"github.com/Jeffail/gabs/v2"

	"github.com/shaiso/flowbot/internal/domain"
	"github.com/shaiso/flowbot/internal/steps"
)

// SearchConfig — настройки HTTPSearch.
type SearchConfig struct {
	HTTPConfig

	// Path — путь запроса (default: /search).
	Path string

	// ItemsPath — путь к массиву результатов в ответе через точку
	// (default: "items"; "." — ответ сам является массивом).
	ItemsPath string
}

// HTTPSearch — поиск по каталогу тенанта.
//
// Запрос:
//
//	POST /search {"tenant_id": "...", "query": "Book X", "filters": {"editor": "Planeta"}, "limit": 5}
//
// Ответ может иметь любую форму: массив результатов берётся по ItemsPath.
type HTTPSearch struct {
	http      *httpClient
	path      string
	itemsPath string
}

var _ steps.SearchService = (*HTTPSearch)(nil)

// NewHTTPSearch создаёт HTTPSearch.
func NewHTTPSearch(cfg SearchConfig) *HTTPSearch {
	path := cfg.Path
	if path == "" {
		path = "/search"
	}
	itemsPath := cfg.ItemsPath
	if itemsPath == "" {
		itemsPath = "items"
	}

	return &HTTPSearch{
		http:      newHTTPClient("search", cfg.HTTPConfig),
		path:      path,
		itemsPath: itemsPath,
	}
}

// Search выполняет поиск.
func (s *HTTPSearch) Search(ctx context.Context, q *steps.SearchQuery) ([]any, error) {
	body := map[string]any{
		"tenant_id": q.TenantID,
		"query":     q.Query,
		"filters":   q.Filters,
		"limit":     q.Limit,
	}

	resp, err := s.http.post(ctx, s.path, nil, body)
	if err != nil {
		return nil, err
	}
	return itemsAt(resp, s.itemsPath)
}

// itemsAt достаёт массив по пути. Отсутствующий путь — пустой результат.
func itemsAt(c *gabs.Container, path string) ([]any, error) {
	target := c
	if path != "." {
		target = c.Path(path)
	}

	switch data := target.Data().(type) {
	case nil:
		return []any{}, nil
	case []any:
		items := make([]any, len(data))
		for i, item := range data {
			items[i] = domain.Normalize(item)
		}
		return items, nil
	default:
		return nil, fmt.Errorf("%w: %q is %T, not an array", ErrBadResponse, path, data)
	}
}
