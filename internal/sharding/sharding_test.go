package sharding

import (
	"fmt"
	"testing"
)

func TestGetShardID(t *testing.T) {
	tests := []struct {
		eventID string
		want    int
	}{
		{"evt-1", 57},
		{"evt-2", 3},
		{"event-abc", 6},
	}

	for _, tt := range tests {
		t.Run(tt.eventID, func(t *testing.T) {
			if got := GetShardID(tt.eventID); got != tt.want {
				t.Errorf("GetShardID(%q) = %v, want %v", tt.eventID, got, tt.want)
			}
		})
	}
}

func TestChangeSubject(t *testing.T) {
	subject := ChangeSubject("evt-1")
	expected := "calendar.change.57.evt-1"
	if subject != expected {
		t.Errorf("ChangeSubject = %v, want %v", subject, expected)
	}
	if got := ShardSubject(20); got != "calendar.change.20.*" {
		t.Errorf("ShardSubject = %v", got)
	}
}

func TestDistribution(t *testing.T) {
	distribution := make(map[int]int)
	for i := 0; i < 1000; i++ {
		distribution[GetShardID(fmt.Sprintf("evt-%d", i))]++
	}
	if len(distribution) < ShardCount/2 {
		t.Errorf("Sharding distribution is too poor. Only %d unique shards used for 1000 keys", len(distribution))
	}
}
