package stats

import "testing"

func TestRedisBackend_Key(t *testing.T) {
	r := &redisBackend{keyPrefix: "stratum:"}

	got := r.key("addr", "bc1qxyz", "worker1", "accepted")
	want := "stratum:addr:bc1qxyz:worker1:accepted"
	if got != want {
		t.Errorf("key() = %q, want %q", got, want)
	}
}

func TestRedisBackend_Key_SinglePart(t *testing.T) {
	r := &redisBackend{keyPrefix: "stratum:"}
	if got := r.key("online"); got != "stratum:online" {
		t.Errorf("key(\"online\") = %q, want %q", got, "stratum:online")
	}
}
