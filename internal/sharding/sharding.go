package sharding

import (
	"fmt"
	"hash/crc32"
)

// ShardCount is the number of subject partitions calendar changes are spread over.
const ShardCount = 64

// ChangePrefix roots every calendar change subject.
const ChangePrefix = "calendar.change"

// AllChanges matches every change subject.
const AllChanges = ChangePrefix + ".>"

// GetShardID calculates the deterministic shard ID for a given event ID.
func GetShardID(eventID string) int {
	checksum := crc32.ChecksumIEEE([]byte(eventID))
	return int(checksum % ShardCount)
}

// ChangeSubject returns the subject a change to eventID is published on.
// Format: calendar.change.{shard_id}.{event_id}
func ChangeSubject(eventID string) string {
	return fmt.Sprintf("%s.%d.%s", ChangePrefix, GetShardID(eventID), eventID)
}

// ShardSubject matches every change in one shard.
func ShardSubject(shardID int) string {
	return fmt.Sprintf("%s.%d.*", ChangePrefix, shardID)
}
