package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr       string
	CORSOrigin string
	JWTSecret  string
	// meili, elastic or memory
	SearchBackend  string
	MeiliURL       string
	MeiliMasterKey string
	// 0 means docstore.DefaultMaxTotalHits
	MeiliMaxTotalHits int
	ElasticURL        string
	OfferIndex        string
	// Entity data; both optional
	DatabaseURL     string
	MigrateEntities bool
	RedisURL        string
	EntityCacheTTL  time.Duration
	// Sync ingress; disabled without brokers
	KafkaBrokers []string
	SyncTopic    string
	SyncDLQTopic string
	SyncGroupID  string
	SyncWorkers  int
	SyncPageSize int
}

func Load() Config {
	return Config{
		Addr:              getenv("API_ADDR", ":8787"),
		CORSOrigin:        getenv("CORS_ORIGIN", "*"),
		JWTSecret:         getenv("JWT_SECRET", ""),
		SearchBackend:     strings.ToLower(getenv("SEARCH_BACKEND", "meili")),
		MeiliURL:          getenv("MEILI_URL", "http://localhost:7700"),
		MeiliMasterKey:    getenv("MEILI_MASTER_KEY", ""),
		MeiliMaxTotalHits: getenvInt("MEILI_MAX_TOTAL_HITS", 0),
		ElasticURL:        getenv("ELASTIC_URL", "http://localhost:9200"),
		OfferIndex:        getenv("OFFER_INDEX", "offers"),
		DatabaseURL:       getenv("DATABASE_URL", ""),
		MigrateEntities:   getenvBool("ENTITY_MIGRATE", false),
		RedisURL:          getenv("REDIS_URL", ""),
		EntityCacheTTL:    time.Duration(getenvInt("ENTITY_CACHE_TTL_SECONDS", 300)) * time.Second,
		KafkaBrokers:      getenvList("KAFKA_BROKERS"),
		SyncTopic:         getenv("SYNC_TOPIC", "search.sync"),
		SyncDLQTopic:      getenv("SYNC_DLQ_TOPIC", "search.sync.dlq"),
		SyncGroupID:       getenv("SYNC_GROUP_ID", "offer-search-sync"),
		SyncWorkers:       getenvInt("SYNC_WORKERS", 8),
		SyncPageSize:      getenvInt("SYNC_PAGE_SIZE", 500),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getenvList splits a comma-separated value, dropping blanks.
func getenvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
