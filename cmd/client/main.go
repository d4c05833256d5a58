// Package main implements the CLI client for the replicated KV service.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/i-melnichenko/kvelldb/internal/kv"
	healthgrpc "github.com/i-melnichenko/kvelldb/internal/transport/grpc/health"
	kvhttp "github.com/i-melnichenko/kvelldb/internal/transport/http/kv"
)

const usage = `Usage:
  client [--addr host:port[,host:port,...]] get [--local] <key>
  client [--addr host:port[,host:port,...]] get-batch [--in <file|->]
  client [--addr host:port[,host:port,...]] set [--write-id id] <key> <value>
  client [--addr host:port[,host:port,...]] set-batch [--in <file|->]
  client [--addr host:port[,host:port,...]] cas [--write-id id] <key> <prev-write-id> <value>
  client [--grpc-addr host:port] health
  client [--addr host:port[,host:port,...]] admin

Every command goes through the log, reads included, except get --local which
returns the first node's current and possibly stale value. When several addresses
are given the client sticks to the node that last accepted a command.
 - get-batch reads many keys with one long-lived client (one key per line)
 - set-batch writes many key/value pairs with one long-lived client (TSV: key<TAB>value)
 - health   queries the gRPC health service of one node
 - admin    polls /v1/status on every node and renders a live table

Write ids default to a random UUID.

Flags:
  --addr       Comma-separated HTTP addresses (default localhost:8080)
  --grpc-addr  gRPC address for health (default localhost:9090)
  --timeout    Request timeout, also sent to the server as the apply deadline (default 5s)
`

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "localhost:8080", "comma-separated KV HTTP addresses")
	grpcAddr := flag.String("grpc-addr", "localhost:9090", "gRPC health address")
	timeout := flag.Duration("timeout", 5*time.Second, "request timeout")
	flag.Usage = func() { _, _ = fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		return fmt.Errorf("subcommand required: get | get-batch | set | set-batch | cas | health | admin")
	}

	urls := baseURLs(*addr)

	switch args[0] {
	case "get":
		fs := flag.NewFlagSet("get", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		localRead := fs.Bool("local", false, "read the first node's state without going through the log")
		if err := fs.Parse(args[1:]); err != nil || fs.NArg() != 1 {
			return fmt.Errorf("usage: get [--local] <key>")
		}
		key := fs.Arg(0)
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()
		if *localRead {
			if len(urls) == 0 {
				return fmt.Errorf("--addr is required")
			}
			res, err := kvhttp.NewClient(urls[0], nil).GetLocal(ctx, key)
			return printResult(key, res, err)
		}
		client, err := kvhttp.NewClusterClient(urls, nil)
		if err != nil {
			return err
		}
		res, err := client.Get(ctx, key, *timeout)
		return printResult(key, res, err)

	case "get-batch":
		inPath, err := parseBatchFlags("get-batch", args[1:])
		if err != nil {
			return err
		}
		client, err := kvhttp.NewClusterClient(urls, nil)
		if err != nil {
			return err
		}
		return cmdGetBatch(client, *timeout, inPath)

	case "set":
		fs := flag.NewFlagSet("set", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		writeID := fs.String("write-id", "", "write id to tag the value with")
		if err := fs.Parse(args[1:]); err != nil || fs.NArg() != 2 {
			return fmt.Errorf("usage: set [--write-id id] <key> <value>")
		}
		client, err := kvhttp.NewClusterClient(urls, nil)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()
		key := fs.Arg(0)
		res, err := client.Set(ctx, key, fs.Arg(1), orNewWriteID(*writeID), *timeout)
		return printResult(key, res, err)

	case "set-batch":
		inPath, err := parseBatchFlags("set-batch", args[1:])
		if err != nil {
			return err
		}
		client, err := kvhttp.NewClusterClient(urls, nil)
		if err != nil {
			return err
		}
		return cmdSetBatch(client, *timeout, inPath)

	case "cas":
		fs := flag.NewFlagSet("cas", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		writeID := fs.String("write-id", "", "write id to tag the new value with")
		if err := fs.Parse(args[1:]); err != nil || fs.NArg() != 3 {
			return fmt.Errorf("usage: cas [--write-id id] <key> <prev-write-id> <value>")
		}
		client, err := kvhttp.NewClusterClient(urls, nil)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()
		key := fs.Arg(0)
		res, err := client.Cas(ctx, key, fs.Arg(1), fs.Arg(2), orNewWriteID(*writeID), *timeout)
		return printResult(key, res, err)

	case "health":
		if len(args) != 1 {
			return fmt.Errorf("usage: health")
		}
		return cmdHealth(*grpcAddr, *timeout)

	case "admin":
		if len(args) != 1 {
			return fmt.Errorf("usage: admin")
		}
		return cmdAdmin(urls, *timeout)

	default:
		flag.Usage()
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
}

func parseBatchFlags(name string, args []string) (string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	inPath := fs.String("in", "-", "input path, use - for stdin")
	if err := fs.Parse(args); err != nil || fs.NArg() != 0 {
		return "", fmt.Errorf("usage: %s [--in <file|->]", name)
	}
	return *inPath, nil
}

func printResult(key string, res kv.CommandResult, err error) error {
	if errors.Is(err, kvhttp.ErrNoLeader) {
		return fmt.Errorf("no node accepted the command, cluster may be degraded")
	}
	if err != nil {
		return err
	}
	switch {
	case res.ReplicationError != kv.ReplicationNone:
		return fmt.Errorf("%s: %s", key, res.ReplicationError)
	case res.KVError == kv.ErrcNotFound:
		fmt.Printf("(not found) %s\n", key)
	case res.KVError == kv.ErrcConflict:
		fmt.Printf("(conflict) %s = %s [write_id %s]\n", key, res.Value, res.WriteID)
	case res.KVError != kv.ErrcNone:
		return fmt.Errorf("%s: %s", key, res.KVError)
	default:
		fmt.Printf("%s = %s [write_id %s]\n", key, res.Value, res.WriteID)
	}
	return nil
}

func cmdHealth(addr string, timeout time.Duration) error {
	client, err := healthgrpc.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	resp, err := client.Check(ctx, healthgrpc.ServiceName)
	if err != nil {
		return err
	}
	fmt.Println(protojson.MarshalOptions{UseProtoNames: true}.Format(resp))
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%s is %s", healthgrpc.ServiceName, resp.GetStatus())
	}
	return nil
}

func cmdSetBatch(c *kvhttp.ClusterClient, timeout time.Duration, inPath string) error {
	r, closeIn, err := openInput(inPath)
	if err != nil {
		return err
	}
	defer closeIn()

	scanner := bufio.NewScanner(r)
	seq := 0
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		seq++
		key, value, ok := strings.Cut(line, "\t")
		if !ok {
			fmt.Printf("err\t%d\t0\t\tinvalid_tsv_line\n", seq)
			continue
		}
		writeID := uuid.NewString()
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		res, setErr := c.Set(ctx, key, value, writeID, timeout)
		cancel()
		ms := time.Since(start).Milliseconds()
		fmt.Println(batchLine(seq, ms, key, writeID, res, setErr))
	}
	return scanner.Err()
}

func cmdGetBatch(c *kvhttp.ClusterClient, timeout time.Duration, inPath string) error {
	r, closeIn, err := openInput(inPath)
	if err != nil {
		return err
	}
	defer closeIn()

	scanner := bufio.NewScanner(r)
	seq := 0
	for scanner.Scan() {
		key := strings.TrimSpace(scanner.Text())
		if key == "" {
			continue
		}
		seq++
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		res, getErr := c.Get(ctx, key, timeout)
		cancel()
		ms := time.Since(start).Milliseconds()
		fmt.Println(batchLine(seq, ms, key, res.WriteID, res, getErr))
	}
	return scanner.Err()
}

// batchLine renders one TSV result line: status, sequence, latency in ms,
// key, write id and either the value length or an error.
func batchLine(seq int, ms int64, key, writeID string, res kv.CommandResult, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), err == nil && res.ReplicationError == kv.ReplicationTimeout:
		return fmt.Sprintf("timeout\t%d\t%d\t%s\t%s\t", seq, ms, key, writeID)
	case err != nil:
		return fmt.Sprintf("err\t%d\t%d\t%s\t%s\t%s", seq, ms, key, writeID, oneLineErr(err))
	case res.ReplicationError != kv.ReplicationNone:
		return fmt.Sprintf("err\t%d\t%d\t%s\t%s\t%s", seq, ms, key, writeID, res.ReplicationError)
	case res.KVError == kv.ErrcNotFound:
		return fmt.Sprintf("notfound\t%d\t%d\t%s\t\t0", seq, ms, key)
	case res.KVError != kv.ErrcNone:
		return fmt.Sprintf("err\t%d\t%d\t%s\t%s\t%s", seq, ms, key, writeID, res.KVError)
	default:
		return fmt.Sprintf("ok\t%d\t%d\t%s\t%s\t%d", seq, ms, key, writeID, len(res.Value))
	}
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	// #nosec G304 -- CLI intentionally reads a user-provided local input file.
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func orNewWriteID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func oneLineErr(err error) string {
	if err == nil {
		return ""
	}
	return strings.ReplaceAll(err.Error(), "\n", " ")
}

// baseURLs splits a comma-separated address list and adds the http scheme
// where missing.
func baseURLs(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.Contains(p, "://") {
			p = "http://" + p
		}
		out = append(out, p)
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
