package sharding

import "testing"

func TestParseIndex(t *testing.T) {
	cases := []struct {
		shardID string
		want    int
		ok      bool
	}{
		{"shard-0", 0, true},
		{"shard-3", 3, true},
		{"shard-42", 42, true},
		{"shard-", 0, false},
		{"shard", 0, false},
		{"shard-x", 0, false},
		{"shard--1", 0, false},
		{"shard-+1", 0, false},
		{"shard-1.5", 0, false},
		{"", 0, false},
		{"SHARD-1", 0, false},
		{"不shard-1", 0, false},
	}

	for _, tc := range cases {
		got, ok := ParseIndex(tc.shardID)
		if ok != tc.ok || (ok && got != tc.want) {
			t.Errorf("ParseIndex(%q) = (%d, %v), want (%d, %v)", tc.shardID, got, ok, tc.want, tc.ok)
		}
	}
}

func TestRoute(t *testing.T) {
	endpoints := []string{"http://h0:9", "http://h1:9"}

	cases := []struct {
		name    string
		shardID string
		want    string
		ok      bool
	}{
		{"explicit shard", "shard-1", "http://h1:9", true},
		{"default shard when absent", "", "http://h0:9", true},
		{"out of range", "shard-2", "", false},
		{"malformed", "replica-1", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Route(tc.shardID, endpoints)
			if ok != tc.ok || got != tc.want {
				t.Errorf("Route(%q) = (%q, %v), want (%q, %v)", tc.shardID, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestRouteEmptyEndpointList(t *testing.T) {
	if _, ok := Route("shard-0", nil); ok {
		t.Error("expected no endpoint for empty list")
	}
}
