// Package repository defines the storage interface for graph nodes.
//
// Two implementations exist:
//
//   - memory: a map guarded by an RWMutex, the default
//   - sqlite: a single nodes table with JSON columns, for downstream
//     consumers that read the graph outside this process
//
// The sync engine never mutates stored nodes in place. It loads copies into
// its arena, changes them there, and writes every touched node back with
// one CommitNodes call so readers see either the old or the new graph.
package repository
