package search

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"tessera/api/internal/docstore"
)

const (
	idxEntities     = "tessera_entities"
	idxCompilations = "tessera_compilations"
)

func indexFor(kind docstore.Kind) string {
	if kind == docstore.Entity {
		return idxEntities
	}
	return idxCompilations
}

// Meili talks to a Meilisearch instance and tracks its reachability.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the two indexes. The
// client is returned even when the instance is unreachable; the health loop
// reconfigures once it comes back.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	for _, uid := range []string{idxEntities, idxCompilations} {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        uid,
			PrimaryKey: "id",
		}); err != nil {
			log.Printf("search: create index %s (may already exist): %v", uid, err)
		}

		searchable := []string{"name", "text"}
		if _, err := m.client.Index(uid).UpdateSearchableAttributes(&searchable); err != nil {
			log.Printf("search: update searchable attrs for %s: %v", uid, err)
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
				log.Println("search: meilisearch recovered, reconfiguring indexes")
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

// SearchIDs returns the ids of records matching query, best hits first.
func (m *Meili) SearchIDs(kind docstore.Kind, query string, limit int64) ([]string, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}
	if limit <= 0 {
		limit = 20
	}

	resp, err := m.client.Index(indexFor(kind)).Search(query, &meili.SearchRequest{
		Limit:                limit,
		AttributesToRetrieve: []string{"id"},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search %s: %w", indexFor(kind), err)
	}

	ids := make([]string, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		if id := decodeString(hit, "id"); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
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

// Index adds or updates one record.
func (m *Meili) Index(kind docstore.Kind, rec Record) error {
	_, err := m.client.Index(indexFor(kind)).AddDocuments([]Record{rec}, nil)
	return err
}

// IndexBatch bulk-indexes records, used for reindexing after recovery.
func (m *Meili) IndexBatch(kind docstore.Kind, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	_, err := m.client.Index(indexFor(kind)).AddDocuments(recs, nil)
	return err
}

// Delete removes one record from its index.
func (m *Meili) Delete(kind docstore.Kind, id string) error {
	_, err := m.client.Index(indexFor(kind)).DeleteDocument(id, nil)
	return err
}
