package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"contentgraph/internal/domain"
)

// ============================================================================
// JSON Marshaling Helpers
// ============================================================================

// unmarshalJSONField safely unmarshals JSON from nullable string into target
func unmarshalJSONField(ns sql.NullString, target interface{}) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), target)
}

// marshalToNull marshals a value to a nullable JSON string.
// nil pointers and empty maps are stored as NULL.
func marshalToNull(v interface{}) (sql.NullString, error) {
	switch t := v.(type) {
	case nil:
		return sql.NullString{}, nil
	case map[string]any:
		if len(t) == 0 {
			return sql.NullString{}, nil
		}
	case domain.Relationships:
		if len(t) == 0 {
			return sql.NullString{}, nil
		}
	case map[string][]string:
		if len(t) == 0 {
			return sql.NullString{}, nil
		}
	case *domain.FileHandle:
		if t == nil {
			return sql.NullString{}, nil
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// ============================================================================
// Schema Evolution Guide
// ============================================================================
//
// To add a new column to the nodes table:
// 1. Add field to nodeRow struct (below)
// 2. Update scanArgs() - APPEND to end to match column order
// 3. Update nodeColumns constant - APPEND to end
// 4. Update toDomain() to map new field to domain.Node
// 5. Update nodeInsertArgs() and the upsert statement
// 6. Add migration in sqlite.go migrate() using addColumnIfNotExists()
//
// CRITICAL: Column order must match between nodeColumns, scanArgs() and
// every SELECT using nodeColumns.

// ============================================================================
// Node Row Scanner
// ============================================================================

// nodeRow holds all columns from a node query for scanning
type nodeRow struct {
	ID                string
	RemoteID          string
	ResourceType      string
	InternalType      string
	Digest            sql.NullString
	AttributesJSON    sql.NullString
	RelationshipsJSON sql.NullString
	BackRefsJSON      sql.NullString
	LocalFileJSON     sql.NullString
}

// scanArgs returns pointers to all fields for sql.Scan()
// MUST match nodeColumns order exactly:
// id, remote_id, resource_type, internal_type, digest,
// attributes, relationships, backrefs, local_file
func (r *nodeRow) scanArgs() []interface{} {
	return []interface{}{
		&r.ID,                // 1
		&r.RemoteID,          // 2
		&r.ResourceType,      // 3
		&r.InternalType,      // 4
		&r.Digest,            // 5
		&r.AttributesJSON,    // 6
		&r.RelationshipsJSON, // 7
		&r.BackRefsJSON,      // 8
		&r.LocalFileJSON,     // 9
	}
}

// toDomain converts the scanned row to a domain.Node
func (r *nodeRow) toDomain() (*domain.Node, error) {
	node := domain.NewNode(r.ID, r.RemoteID, r.ResourceType)
	// stored internal type is authoritative
	node.InternalType = r.InternalType
	if r.Digest.Valid {
		node.Digest = r.Digest.String
	}

	if err := unmarshalJSONField(r.AttributesJSON, &node.Attributes); err != nil {
		return nil, fmt.Errorf("unmarshal attributes: %w", err)
	}
	if err := unmarshalJSONField(r.RelationshipsJSON, &node.Relationships); err != nil {
		return nil, fmt.Errorf("unmarshal relationships: %w", err)
	}
	if err := unmarshalJSONField(r.BackRefsJSON, &node.BackRefs); err != nil {
		return nil, fmt.Errorf("unmarshal backrefs: %w", err)
	}
	if r.LocalFileJSON.Valid && r.LocalFileJSON.String != "" {
		node.LocalFile = &domain.FileHandle{}
		if err := json.Unmarshal([]byte(r.LocalFileJSON.String), node.LocalFile); err != nil {
			return nil, fmt.Errorf("unmarshal local file: %w", err)
		}
	}

	return node, nil
}

// nodeColumns is the SELECT column list for node queries
const nodeColumns = `id, remote_id, resource_type, internal_type, digest,
	attributes, relationships, backrefs, local_file`

// ============================================================================
// Node Write Helpers
// ============================================================================

// nodeInsertArgs prepares arguments for the node UPSERT, in nodeColumns order
func nodeInsertArgs(node *domain.Node) ([]interface{}, error) {
	attrsJSON, err := marshalToNull(node.Attributes)
	if err != nil {
		return nil, fmt.Errorf("marshal attributes: %w", err)
	}
	relsJSON, err := marshalToNull(node.Relationships)
	if err != nil {
		return nil, fmt.Errorf("marshal relationships: %w", err)
	}
	backRefsJSON, err := marshalToNull(node.BackRefs)
	if err != nil {
		return nil, fmt.Errorf("marshal backrefs: %w", err)
	}
	localFileJSON, err := marshalToNull(node.LocalFile)
	if err != nil {
		return nil, fmt.Errorf("marshal local file: %w", err)
	}

	var digest sql.NullString
	if node.Digest != "" {
		digest = sql.NullString{String: node.Digest, Valid: true}
	}

	return []interface{}{
		node.ID,
		node.RemoteID,
		node.ResourceType,
		node.InternalType,
		digest,
		attrsJSON,
		relsJSON,
		backRefsJSON,
		localFileJSON,
	}, nil
}
