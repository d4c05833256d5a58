package kv

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/i-melnichenko/kvelldb/internal/model"
)

func newTestStore() *Store {
	return NewStore(noop.NewTracerProvider().Tracer("test"))
}

func TestEncodeDecodeCommands(t *testing.T) {
	tests := []Command{
		SetCmd{Key: "k", Value: "v", WriteID: "w1"},
		GetCmd{Key: "k"},
		CasCmd{Key: "k", PrevWriteID: "w1", Value: "v2", WriteID: "w2"},
		SetCmd{Key: "", Value: "", WriteID: ""},
	}
	for _, cmd := range tests {
		batch := Encode(cmd)
		if batch.Type() != model.BatchTypeKV {
			t.Fatalf("Encode(%#v) type = %s, want %s", cmd, batch.Type(), model.BatchTypeKV)
		}
		if batch.Header.RecordCount != 1 {
			t.Fatalf("Encode(%#v) record count = %d, want 1", cmd, batch.Header.RecordCount)
		}
		got, err := Decode(batch)
		if err != nil {
			t.Fatalf("Decode(Encode(%#v)) error = %v", cmd, err)
		}
		if got != cmd {
			t.Fatalf("Decode(Encode(%#v)) = %#v", cmd, got)
		}
	}
}

func TestDecodeUnknownDiscriminator(t *testing.T) {
	batch := model.NewBatchBuilder(model.BatchTypeKV, 0).AddRawKV([]byte{9}, nil).Build()
	_, err := Decode(batch)
	if !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("Decode() error = %v, want ErrUnknownCommand", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name  string
		batch model.RecordBatch
	}{
		{
			name:  "truncated fields",
			batch: model.NewBatchBuilder(model.BatchTypeKV, 0).AddRawKV([]byte{byte(SetType)}, appendFields(nil, "k")).Build(),
		},
		{
			name:  "trailing bytes",
			batch: model.NewBatchBuilder(model.BatchTypeKV, 0).AddRawKV([]byte{byte(GetType)}, appendFields(nil, "k", "x")).Build(),
		},
		{
			name: "two records",
			batch: model.NewBatchBuilder(model.BatchTypeKV, 0).
				AddRawKV([]byte{byte(GetType)}, appendFields(nil, "a")).
				AddRawKV([]byte{byte(GetType)}, appendFields(nil, "b")).
				Build(),
		},
		{
			name:  "empty discriminator",
			batch: model.NewBatchBuilder(model.BatchTypeKV, 0).AddRawKV(nil, appendFields(nil, "k")).Build(),
		},
		{
			name:  "wrong batch type",
			batch: model.NewBatchBuilder(model.BatchTypeData, 0).AddRawKV([]byte{byte(GetType)}, appendFields(nil, "k")).Build(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.batch); !errors.Is(err, ErrMalformedCommand) {
				t.Fatalf("Decode() error = %v, want ErrMalformedCommand", err)
			}
		})
	}
}

func TestStoreGetMissing(t *testing.T) {
	s := newTestStore()
	res := s.Execute(context.Background(), GetCmd{Key: "missing"})
	if res.KVError != ErrcNotFound {
		t.Fatalf("Get missing = %+v, want NotFound", res)
	}
}

func TestStoreCasScenario(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	if res := s.Execute(ctx, SetCmd{Key: "k", Value: "v1", WriteID: "w1"}); !res.OK() || res.WriteID != "w1" || res.Value != "v1" {
		t.Fatalf("Set = %+v", res)
	}

	res := s.Execute(ctx, CasCmd{Key: "k", PrevWriteID: "wrong", Value: "v2", WriteID: "w2"})
	if res.KVError != ErrcConflict || res.WriteID != "w1" || res.Value != "v1" {
		t.Fatalf("Cas with stale write id = %+v, want Conflict with (w1, v1)", res)
	}

	res = s.Execute(ctx, CasCmd{Key: "k", PrevWriteID: "w1", Value: "v2", WriteID: "w2"})
	if !res.OK() || res.WriteID != "w2" || res.Value != "v2" {
		t.Fatalf("Cas = %+v, want (w2, v2)", res)
	}

	rec, ok := s.Get("k")
	if !ok || rec != (Record{WriteID: "w2", Value: "v2"}) {
		t.Fatalf("Get(k) = %+v, %v", rec, ok)
	}
}

func TestStoreCasMissing(t *testing.T) {
	s := newTestStore()
	res := s.Execute(context.Background(), CasCmd{Key: "k", PrevWriteID: "w0", Value: "v", WriteID: "w1"})
	if res.KVError != ErrcNotFound {
		t.Fatalf("Cas missing = %+v, want NotFound", res)
	}
	if s.Len() != 0 {
		t.Fatalf("Cas on missing key must not create it")
	}
}

func TestStoreGetDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	s.Execute(ctx, SetCmd{Key: "k", Value: "v", WriteID: "w"})
	for i := 0; i < 3; i++ {
		s.Execute(ctx, GetCmd{Key: "k"})
		s.Execute(ctx, GetCmd{Key: "other"})
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
	if rec, _ := s.Get("k"); rec.WriteID != "w" || rec.Value != "v" {
		t.Fatalf("Get(k) = %+v", rec)
	}
}

func TestStoreLastWriterWins(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	cmds := []Command{
		SetCmd{Key: "a", Value: "1", WriteID: "a1"},
		SetCmd{Key: "b", Value: "1", WriteID: "b1"},
		CasCmd{Key: "a", PrevWriteID: "a1", Value: "2", WriteID: "a2"},
		CasCmd{Key: "b", PrevWriteID: "zz", Value: "2", WriteID: "b2"},
		SetCmd{Key: "b", Value: "3", WriteID: "b3"},
		CasCmd{Key: "a", PrevWriteID: "a1", Value: "3", WriteID: "a3"},
	}
	for _, c := range cmds {
		s.Execute(ctx, c)
	}
	want := map[string]Record{
		"a": {WriteID: "a2", Value: "2"},
		"b": {WriteID: "b3", Value: "3"},
	}
	for k, w := range want {
		if got, _ := s.Get(k); got != w {
			t.Fatalf("Get(%s) = %+v, want %+v", k, got, w)
		}
	}
}

func TestCommandResultJSON(t *testing.T) {
	in := CommandResult{WriteID: "w", Value: "v", KVError: ErrcConflict, ReplicationError: ReplicationTimeout}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"write_id":"w","value":"v","kv_error":"conflict","replication_error":"timeout"}`
	if string(raw) != want {
		t.Fatalf("Marshal() = %s, want %s", raw, want)
	}
	var out CommandResult
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if out != in {
		t.Fatalf("Unmarshal() = %+v, want %+v", out, in)
	}
}

func TestCommandResultLabel(t *testing.T) {
	tests := []struct {
		res  CommandResult
		want string
	}{
		{CommandResult{}, "ok"},
		{CommandResult{KVError: ErrcNotFound}, "not_found"},
		{TimeoutResult(), "timeout"},
		{ReplicationFailedResult(), "replication_failed"},
	}
	for _, tt := range tests {
		if got := tt.res.Label(); got != tt.want {
			t.Fatalf("Label(%+v) = %q, want %q", tt.res, got, tt.want)
		}
	}
}
