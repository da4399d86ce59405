package control

import (
	"fount/internal/store"
	"fount/internal/writes"
)

// Writers builds the conditional batch executor for one verb against one
// physical table. Production: rethink.Store. Testing: scripted stores.
type Writers interface {
	Writer(s store.Session, db, table string, verb writes.Verb) writes.Store
}
