package rethink

import (
	"errors"
	"testing"

	"fount"
	"fount/internal/writes"
)

func TestTableStatusDocReshapesSystemRow(t *testing.T) {
	t.Parallel()

	raw := fount.Document{
		"id":   "4b3f...",
		"name": "posts",
		"db":   "app",
		"status": map[string]any{
			"all_replicas_ready": true,
			"ready_for_writes":   true,
		},
		"indexes": map[string]any{"hz_[[\"email\"]]": true},
	}
	doc := tableStatusDoc(raw)
	if doc["id"] != "4b3f..." || doc["collection"] != "posts" {
		t.Fatalf("doc = %v", doc)
	}
	if doc["ready"] != true {
		t.Fatal("all_replicas_ready not mapped to ready")
	}
	indexes, _ := doc["indexes"].(map[string]any)
	if indexes["hz_[[\"email\"]]"] != true {
		t.Fatalf("indexes = %v", indexes)
	}
}

func TestTableStatusDocToleratesPartialRows(t *testing.T) {
	t.Parallel()

	if tableStatusDoc(nil) != nil {
		t.Fatal("nil row not preserved")
	}
	doc := tableStatusDoc(fount.Document{"id": "x", "name": "posts"})
	if doc["ready"] != false {
		t.Fatal("missing status not treated as unready")
	}
}

func TestChangeTypeNormalization(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		row  changeRow
		want fount.ChangeType
	}{
		{"explicit type wins", changeRow{Type: "add", New: map[string]any{"id": 1}}, fount.ChangeAdd},
		{"state marker", changeRow{State: "ready"}, fount.ChangeState},
		{"implied removal", changeRow{Old: map[string]any{"id": 1}}, fount.ChangeRemove},
		{"implied change", changeRow{New: map[string]any{"id": 1}}, fount.ChangeChange},
	}
	for _, tc := range cases {
		if got := changeType(tc.row); got != tc.want {
			t.Fatalf("%s: changeType = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestClassifyMapsWriteErrors(t *testing.T) {
	t.Parallel()

	if res := classify("Duplicate primary key `id`"); res.Status != writes.StatusDuplicate {
		t.Fatalf("duplicate classified as %v", res.Status)
	}
	if res := classify("Error in :\nwrite invalidated"); res.Status != writes.StatusInvalidated {
		t.Fatalf("invalidation classified as %v", res.Status)
	}
	res := classify("Error in :\ndocument is missing")
	if res.Status != writes.StatusError || res.Err == nil {
		t.Fatalf("missing-document error classified as %v", res.Status)
	}
	if res := classify("table `app.posts` does not exist"); res.Status != writes.StatusError || res.Err == nil {
		t.Fatalf("unknown error classified as %v err=%v", res.Status, res.Err)
	}
}

func TestStripVersionCopies(t *testing.T) {
	t.Parallel()

	row := fount.Document{"id": "a", "body": "x", fount.VersionField: uint64(3)}
	doc := stripVersion(row)
	if _, ok := doc[fount.VersionField]; ok {
		t.Fatal("version attribute survived")
	}
	if doc["id"] != "a" || doc["body"] != "x" {
		t.Fatalf("doc = %v", doc)
	}
	doc["body"] = "mutated"
	if row["body"] != "x" {
		t.Fatal("strip aliased the input row")
	}
}

func TestAlreadyExistsMatchesDriverMessages(t *testing.T) {
	t.Parallel()

	if !alreadyExists(errors.New("Database `app` already exists")) {
		t.Fatal("create-database conflict not recognized")
	}
	if !alreadyExists(errors.New("Index `hz_x` already exists on table `app.posts`")) {
		t.Fatal("create-index conflict not recognized")
	}
	if alreadyExists(errors.New("connection refused")) {
		t.Fatal("unrelated error recognized as exists-conflict")
	}
	if alreadyExists(nil) {
		t.Fatal("nil error recognized as exists-conflict")
	}
}
