// Package searchindex keeps an Elasticsearch index of catalog tools for
// relevance-ranked search.
package searchindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/xuai/navigator/pkg/models"
)

// DefaultIndexName index used when none is configured
const DefaultIndexName = "navigator-tools"

// Config Elasticsearch connection settings
type Config struct {
	Addresses []string
	Username  string
	Password  string
	APIKey    string
	IndexName string
}

// Index Elasticsearch-backed tool index
type Index struct {
	client *elasticsearch.Client
	index  string
	logger *slog.Logger
}

type document struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Developer   string   `json:"developer,omitempty"`
	CategoryID  int64    `json:"category_id"`
	IsActive    bool     `json:"is_active"`
	IsFeatured  bool     `json:"is_featured"`
	Rating      float64  `json:"rating"`
}

func toDocument(t *models.Tool) document {
	return document{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Tags:        t.Tags,
		Developer:   t.Developer,
		CategoryID:  t.CategoryID,
		IsActive:    t.IsActive,
		IsFeatured:  t.IsFeatured,
		Rating:      t.Rating,
	}
}

// New creates the client. It does not contact the cluster.
func New(cfg Config, logger *slog.Logger) (*Index, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("elasticsearch addresses are required")
	}
	esCfg := elasticsearch.Config{Addresses: cfg.Addresses}
	if cfg.APIKey != "" {
		esCfg.APIKey = cfg.APIKey
	} else if cfg.Username != "" && cfg.Password != "" {
		esCfg.Username = cfg.Username
		esCfg.Password = cfg.Password
	}

	client, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	name := cfg.IndexName
	if name == "" {
		name = DefaultIndexName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{client: client, index: name, logger: logger.With("component", "searchindex")}, nil
}

// Name index name
func (i *Index) Name() string {
	return i.index
}

// EnsureIndex creates the index with its mappings. An existing index is left alone.
func (i *Index) EnsureIndex(ctx context.Context) error {
	body, err := json.Marshal(map[string]any{
		"settings": map[string]any{
			"number_of_shards":   1,
			"number_of_replicas": 0,
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				"id":          map[string]any{"type": "long"},
				"name":        map[string]any{"type": "text", "fields": map[string]any{"keyword": map[string]any{"type": "keyword"}}},
				"description": map[string]any{"type": "text"},
				"tags":        map[string]any{"type": "text", "fields": map[string]any{"keyword": map[string]any{"type": "keyword"}}},
				"developer":   map[string]any{"type": "text"},
				"category_id": map[string]any{"type": "long"},
				"is_active":   map[string]any{"type": "boolean"},
				"is_featured": map[string]any{"type": "boolean"},
				"rating":      map[string]any{"type": "float"},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal index body: %w", err)
	}

	res, err := i.client.Indices.Create(
		i.index,
		i.client.Indices.Create.WithContext(ctx),
		i.client.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		var errResp struct {
			Error struct {
				Type string `json:"type"`
			} `json:"error"`
		}
		if err := json.NewDecoder(res.Body).Decode(&errResp); err != nil {
			return fmt.Errorf("failed to create index: %s", res.Status())
		}
		if errResp.Error.Type == "resource_already_exists_exception" {
			return nil
		}
		return fmt.Errorf("failed to create index: %s (%s)", res.Status(), errResp.Error.Type)
	}
	return nil
}

// Upsert indexes one tool under its id.
func (i *Index) Upsert(ctx context.Context, t *models.Tool) error {
	body, err := json.Marshal(toDocument(t))
	if err != nil {
		return err
	}
	res, err := i.client.Index(
		i.index,
		bytes.NewReader(body),
		i.client.Index.WithContext(ctx),
		i.client.Index.WithDocumentID(strconv.FormatInt(t.ID, 10)),
	)
	if err != nil {
		return fmt.Errorf("failed to index tool %d: %w", t.ID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("failed to index tool %d: %s", t.ID, res.Status())
	}
	return nil
}

// Delete removes one tool. A missing document is not an error.
func (i *Index) Delete(ctx context.Context, id int64) error {
	res, err := i.client.Delete(
		i.index,
		strconv.FormatInt(id, 10),
		i.client.Delete.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to delete tool %d: %w", id, err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != 404 {
		return fmt.Errorf("failed to delete tool %d: %s", id, res.Status())
	}
	return nil
}

// Reindex bulk-indexes every tool.
func (i *Index) Reindex(ctx context.Context, tools []models.Tool) error {
	if len(tools) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for idx := range tools {
		meta := map[string]any{"index": map[string]any{"_index": i.index, "_id": strconv.FormatInt(tools[idx].ID, 10)}}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		if err := enc.Encode(toDocument(&tools[idx])); err != nil {
			return err
		}
	}

	res, err := i.client.Bulk(bytes.NewReader(buf.Bytes()), i.client.Bulk.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to bulk index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("failed to bulk index: %s", res.Status())
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err == nil && bulkResp.Errors {
		i.logger.Warn("bulk index reported item errors", "count", len(tools))
	}
	return nil
}

// Search returns the ids of active tools matching query, best match first.
func (i *Index) Search(ctx context.Context, query string, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 100
	}
	body, err := json.Marshal(map[string]any{
		"_source": false,
		"query": map[string]any{
			"bool": map[string]any{
				"must": map[string]any{
					"multi_match": map[string]any{
						"query":     query,
						"fields":    []string{"name^3", "tags^2", "description", "developer"},
						"fuzziness": "AUTO",
					},
				},
				"filter": map[string]any{
					"term": map[string]any{"is_active": true},
				},
			},
		},
	})
	if err != nil {
		return nil, err
	}

	res, err := i.client.Search(
		i.client.Search.WithContext(ctx),
		i.client.Search.WithIndex(i.index),
		i.client.Search.WithBody(bytes.NewReader(body)),
		i.client.Search.WithSize(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, fmt.Errorf("search failed: %s: %s", res.Status(), msg)
	}

	var out struct {
		Hits struct {
			Hits []struct {
				ID string `json:"_id"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	ids := make([]int64, 0, len(out.Hits.Hits))
	for _, h := range out.Hits.Hits {
		id, err := strconv.ParseInt(h.ID, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
