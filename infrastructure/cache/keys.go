// Package cache implements the cache tiers fronting semantic search:
// L0 request-scoped, L1 distributed, L2 materialised favourite summaries,
// L3 embedding memoisation, plus the semantic query cache.
package cache

import (
	"crypto/md5"
	"encoding/hex"
)

// Key prefixes
const (
	SearchKeyPrefix    = "search"
	EmbeddingKeyPrefix = "embedding"
	userVersionPrefix  = "user:version"
	userFavoritePrefix = "user_favorite"
	stmKeyPrefix       = "stm"
	semanticListPrefix = "semantic_cache:queries"
)

// HashQuery returns the md5 hex digest of a query string
func HashQuery(query string) string {
	sum := md5.Sum([]byte(query))
	return hex.EncodeToString(sum[:])
}

// SearchKey builds the canonical search cache key:
// "search:{userId}:{md5(query)}:version:{versionTag}". An absent version tag
// yields an empty segment, so a later bump changes the key.
func SearchKey(userID, query, versionTag string) string {
	return SearchKeyPrefix + ":" + userID + ":" + HashQuery(query) + ":version:" + versionTag
}

// SearchKeyByHash builds the canonical search key from a precomputed hash
func SearchKeyByHash(userID, queryHash, versionTag string) string {
	return SearchKeyPrefix + ":" + userID + ":" + queryHash + ":version:" + versionTag
}

// EmbeddingKey builds the L3 embedding cache key: "embedding:{md5(query)}"
func EmbeddingKey(query string) string {
	return EmbeddingKeyPrefix + ":" + HashQuery(query)
}

// UserVersionKey builds the per-user version tag key
func UserVersionKey(userID string) string {
	return userVersionPrefix + ":" + userID
}

// UserFavoriteKey builds the warmed favourite summary key
func UserFavoriteKey(userID string) string {
	return userFavoritePrefix + ":" + userID
}

// STMKey builds the per-session short-term memory key
func STMKey(sessionID string) string {
	return stmKeyPrefix + ":" + sessionID
}

// SemanticQueriesKey builds the per-user semantic cache query list key
func SemanticQueriesKey(userID string) string {
	return semanticListPrefix + ":" + userID
}

// UserSearchPattern matches every search entry of a user, any version
func UserSearchPattern(userID string) string {
	return SearchKeyPrefix + ":" + userID + ":*"
}
