// Package storage persists the registry snapshot.
//
// The snapshot is a single document (participants, destinations, next cycle
// time) overwritten in full on every registry mutation. Two drivers exist:
// a JSON file replaced via atomic rename, and a SQLite database rewritten in
// one transaction per save.
package storage
