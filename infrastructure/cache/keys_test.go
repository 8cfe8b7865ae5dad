package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashQuery(t *testing.T) {
	// md5 of "hello" is a fixed reference value.
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", HashQuery("hello"))
	assert.Equal(t, HashQuery("same"), HashQuery("same"))
	assert.NotEqual(t, HashQuery("a"), HashQuery("b"))
}

func TestSearchKey(t *testing.T) {
	key := SearchKey("u1", "hello", "1700000000")
	assert.Equal(t, "search:u1:5d41402abc4b2a76b9719d911017c592:version:1700000000", key)

	// An absent version tag leaves the segment empty, so a later bump
	// changes the key.
	assert.Equal(t, "search:u1:5d41402abc4b2a76b9719d911017c592:version:", SearchKey("u1", "hello", ""))
	assert.NotEqual(t, SearchKey("u1", "hello", ""), SearchKey("u1", "hello", "1"))
}

func TestKeyFamilies(t *testing.T) {
	assert.Equal(t, "embedding:5d41402abc4b2a76b9719d911017c592", EmbeddingKey("hello"))
	assert.Equal(t, "user:version:u1", UserVersionKey("u1"))
	assert.Equal(t, "user_favorite:u1", UserFavoriteKey("u1"))
	assert.Equal(t, "stm:s1", STMKey("s1"))
	assert.Equal(t, "semantic_cache:queries:u1", SemanticQueriesKey("u1"))
	assert.Equal(t, "search:u1:*", UserSearchPattern("u1"))
}

func TestIsFavoriteQuery(t *testing.T) {
	for _, query := range []string{
		"what is my favorite movie?",
		"What do I LIKE to eat?",
		"things I prefer",
		"songs I love",
	} {
		assert.True(t, IsFavoriteQuery(query), query)
	}

	for _, query := range []string{
		"where do I live?",
		"what happened yesterday",
		"",
	} {
		assert.False(t, IsFavoriteQuery(query), query)
	}
}
