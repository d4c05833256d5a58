package kvhttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/i-melnichenko/kvelldb/internal/kv"
)

func TestClusterClient_SkipsNodesThatFailReplication(t *testing.T) {
	down := &fakeHandler{result: kv.ReplicationFailedResult()}
	up := &fakeHandler{result: kv.CommandResult{WriteID: "w1", Value: "v1"}}

	var urls []string
	for _, h := range []*fakeHandler{down, up, down} {
		srv := httptest.NewServer(NewServer(h, slog.Default(), nil, time.Second).Router())
		t.Cleanup(srv.Close)
		urls = append(urls, srv.URL)
	}

	c, err := NewClusterClient(urls, nil)
	if err != nil {
		t.Fatalf("NewClusterClient() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		res, err := c.Set(context.Background(), "k", "v1", "w1", 0)
		if err != nil || !res.OK() {
			t.Fatalf("Set() = %+v, %v", res, err)
		}
		if hint := c.getLeaderHint(); hint != 1 {
			t.Fatalf("leader hint = %d, want 1", hint)
		}
	}
}

func TestClusterClient_NoLeader(t *testing.T) {
	down := &fakeHandler{result: kv.ReplicationFailedResult()}
	srv := httptest.NewServer(NewServer(down, slog.Default(), nil, time.Second).Router())
	defer srv.Close()

	c, err := NewClusterClient([]string{srv.URL, srv.URL}, srv.Client())
	if err != nil {
		t.Fatalf("NewClusterClient() error = %v", err)
	}
	if _, err := c.Get(context.Background(), "k", 0); !errors.Is(err, ErrNoLeader) {
		t.Fatalf("Get() error = %v, want ErrNoLeader", err)
	}
	if hint := c.getLeaderHint(); hint != -1 {
		t.Fatalf("leader hint = %d, want -1", hint)
	}
}

func TestNewClusterClient_RequiresAddresses(t *testing.T) {
	if _, err := NewClusterClient(nil, nil); err == nil {
		t.Fatalf("NewClusterClient(nil) error = nil, want error")
	}
}
