package database

import (
	"bytes"
	"strings"
	"testing"
)

func TestPayloadCodecRoundTrip(t *testing.T) {
	raw := []byte(strings.Repeat(`{"labels":[{"name":"bug"}],"state":"open"}`, 64))
	stored, err := encodePayload(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) >= len(raw) {
		t.Fatalf("expected compressed payload to shrink, got %d >= %d", len(stored), len(raw))
	}
	got, err := decodePayload(stored)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, raw) {
		t.Fatal("decoded payload does not match input")
	}
}

func TestPayloadCodecEmpty(t *testing.T) {
	stored, err := encodePayload(nil)
	if err != nil || stored != nil {
		t.Fatalf("encodePayload(nil) = %v, %v", stored, err)
	}
	got, err := decodePayload(nil)
	if err != nil || got != nil {
		t.Fatalf("decodePayload(nil) = %v, %v", got, err)
	}
}

func TestPostgresRebind(t *testing.T) {
	got := postgresDialect.rebind(`SELECT 1 FROM items WHERE id = ? AND repo = ?`)
	want := `SELECT 1 FROM items WHERE id = $1 AND repo = $2`
	if got != want {
		t.Fatalf("rebind = %q, want %q", got, want)
	}
	if got := sqliteDialect.rebind("id = ?"); got != "id = ?" {
		t.Fatalf("sqlite rebind = %q", got)
	}
}
