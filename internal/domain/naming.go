package domain

import (
	"regexp"
)

// LinkSuffix marks a relationship field that holds node ids
const LinkSuffix = "___NODE"

// AttributesIDKey preserves the remote attributes.id, which would otherwise
// collide with the node id
const AttributesIDKey = "_attributes_id"

var typeSeparators = regexp.MustCompile(`-|__|:|\.|\s`)

// SanitizeType turns a remote resource type ("node--article") into the
// internal type name used by the graph ("node__article")
func SanitizeType(resourceType string) string {
	return typeSeparators.ReplaceAllString(resourceType, "_")
}

// FieldKey returns the relationship key for a forward field
func FieldKey(field string) string {
	return field + LinkSuffix
}

// BackRefKey returns the relationship key under which nodes of the given
// internal type are listed on the nodes they point at
func BackRefKey(internalType string) string {
	return internalType + LinkSuffix
}
