package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionRecordKey returns the cache key for one durable session record
func (r *CacheKeyStruct) SessionRecordKey(collection, userID, testID, mode, partsKey string) string {
	return fmt.Sprintf("session:%s:%s:%s:%s:%s", collection, userID, testID, mode, partsKey)
}

// SessionCollectionPattern returns the SCAN pattern matching every cached record of a collection
func (r *CacheKeyStruct) SessionCollectionPattern(collection string) string {
	return fmt.Sprintf("session:%s:*", collection)
}

var CacheKey = NewCacheKeyStruct()
