package search

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/pwardo/nextjs-threads/internal/logging"
	"github.com/pwardo/nextjs-threads/internal/store"
)

const (
	IdxUsers       = "threads_users"
	IdxCommunities = "threads_communities"
)

// Meili implements Index via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes.
// An unreachable server leaves it unhealthy until the health loop recovers it.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		logging.Log.WithError(err).WithField("url", url).Warn("search: meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	searchable := []string{"name", "username"}
	sortable := []string{"createdAt"}
	filterable := []interface{}{"externalId"}

	for _, uid := range []string{IdxUsers, IdxCommunities} {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        uid,
			PrimaryKey: "id",
		}); err != nil {
			logging.Log.WithError(err).WithField("index", uid).Debug("search: create index (may already exist)")
		}

		index := m.client.Index(uid)
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			logging.Log.WithError(err).WithField("index", uid).Warn("search: update filterable attributes")
		}
		if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
			logging.Log.WithError(err).WithField("index", uid).Warn("search: update sortable attributes")
		}
		if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
			logging.Log.WithError(err).WithField("index", uid).Warn("search: update searchable attributes")
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				logging.Log.Info("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// SearchIDs returns the ids of candidate matches in uid, in ranking order
// unless q asks for a creation-time sort. Meilisearch matching is prefix and
// typo tolerant, so callers must filter the hydrated rows themselves.
func (m *Meili) SearchIDs(uid string, q Query) ([]string, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{searchRequest(uid, q)},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var ids []string
	for _, sr := range resp.Results {
		for _, hit := range sr.Hits {
			if id := decodeString(hit, "id"); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

func searchRequest(uid string, q Query) *meili.SearchRequest {
	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}
	sr := &meili.SearchRequest{
		IndexUID: uid,
		Query:    q.Text,
		Limit:    limit,
		Offset:   int64(q.Offset),
	}
	if q.ExcludeExternalID != "" {
		sr.Filter = []string{fmt.Sprintf("externalId != %q", q.ExcludeExternalID)}
	}
	switch q.Sort {
	case store.SortAsc:
		sr.Sort = []string{"createdAt:asc"}
	case store.SortDesc:
		sr.Sort = []string{"createdAt:desc"}
	}
	return sr
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// IndexUsers adds or updates users in the search index.
func (m *Meili) IndexUsers(users []UserRecord) error {
	if len(users) == 0 {
		return nil
	}
	_, err := m.client.Index(IdxUsers).AddDocuments(users, nil)
	return err
}

// IndexCommunities adds or updates communities in the search index.
func (m *Meili) IndexCommunities(communities []CommunityRecord) error {
	if len(communities) == 0 {
		return nil
	}
	_, err := m.client.Index(IdxCommunities).AddDocuments(communities, nil)
	return err
}

// DeleteCommunity removes a community from the search index.
func (m *Meili) DeleteCommunity(id string) error {
	_, err := m.client.Index(IdxCommunities).DeleteDocument(id, nil)
	return err
}
