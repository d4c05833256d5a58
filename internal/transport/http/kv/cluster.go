package kvhttp

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/i-melnichenko/kvelldb/internal/kv"
)

// ErrNoLeader is returned by ClusterClient when no node accepted the command.
var ErrNoLeader = errors.New("kvhttp: no node accepted the command")

// ClusterClient spreads commands over several nodes and sticks to the last
// node that accepted one. A node answering ReplicationFailed is skipped.
type ClusterClient struct {
	clients []*Client

	mu         sync.RWMutex
	leaderHint int // -1 means unknown
}

// NewClusterClient creates a client for every base URL.
func NewClusterClient(baseURLs []string, httpClient *http.Client) (*ClusterClient, error) {
	if len(baseURLs) == 0 {
		return nil, fmt.Errorf("kvhttp cluster client: no addresses provided")
	}
	clients := make([]*Client, 0, len(baseURLs))
	for _, u := range baseURLs {
		clients = append(clients, NewClient(u, httpClient))
	}
	return &ClusterClient{
		clients:    clients,
		leaderHint: -1,
	}, nil
}

// Get reads key through the log of whichever node accepts it.
func (c *ClusterClient) Get(ctx context.Context, key string, timeout time.Duration) (kv.CommandResult, error) {
	return c.toLeader(ctx, func(client *Client) (kv.CommandResult, error) {
		return client.Get(ctx, key, timeout)
	})
}

// Set writes value under key on whichever node accepts it.
func (c *ClusterClient) Set(ctx context.Context, key, value, writeID string, timeout time.Duration) (kv.CommandResult, error) {
	return c.toLeader(ctx, func(client *Client) (kv.CommandResult, error) {
		return client.Set(ctx, key, value, writeID, timeout)
	})
}

// Cas compares and sets key on whichever node accepts it.
func (c *ClusterClient) Cas(ctx context.Context, key, prevWriteID, value, writeID string, timeout time.Duration) (kv.CommandResult, error) {
	return c.toLeader(ctx, func(client *Client) (kv.CommandResult, error) {
		return client.Cas(ctx, key, prevWriteID, value, writeID, timeout)
	})
}

// toLeader tries the hinted node first, then the rest in random order. A
// Timeout result is returned as is: the command may still commit, so trying
// another node could apply it twice.
func (c *ClusterClient) toLeader(ctx context.Context, fn func(*Client) (kv.CommandResult, error)) (kv.CommandResult, error) {
	for _, i := range c.order() {
		res, err := fn(c.clients[i])
		if err == nil && res.ReplicationError != kv.ReplicationFailed {
			c.setLeaderHint(i)
			return res, nil
		}
		c.clearLeaderHintIf(i)
		if ctx.Err() != nil {
			return kv.CommandResult{}, ctx.Err()
		}
	}
	return kv.CommandResult{}, ErrNoLeader
}

func (c *ClusterClient) order() []int {
	n := len(c.clients)
	order := make([]int, 0, n)

	hint := c.getLeaderHint()
	if hint >= 0 && hint < n {
		order = append(order, hint)
	}
	for _, i := range rand.Perm(n) {
		if i == hint {
			continue
		}
		order = append(order, i)
	}
	return order
}

func (c *ClusterClient) getLeaderHint() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.leaderHint
}

func (c *ClusterClient) setLeaderHint(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaderHint = i
}

func (c *ClusterClient) clearLeaderHintIf(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.leaderHint == i {
		c.leaderHint = -1
	}
}
