package mapper

import "strings"

const (
	// maxTopicNameBytes is the buffer bound from the data model: topic
	// names are truncated to 128 bytes including a NUL terminator.
	maxTopicNameBytes = 128
	publicSchema      = "public"
)

// DeriveTopicName is a pure function of (namespace, tableName, prefix,
// expectedNamespace): given the namespace and name of the generated Avro
// row schema, the table name, an optional configured topic prefix, and the
// namespace the schema generator is expected to produce for this
// database, return the topic name.
//
// If namespace is exactly expectedNamespace, or a dotted child of it
// (expectedNamespace + "." + schema), and the trailing dotted segment is
// not "public", the topic name is "<trailing segment>.<table name>".
// Otherwise it is just "<table name>". A configured prefix, if non-empty,
// is prepended with a "." separator. The result is truncated to
// maxTopicNameBytes-1 bytes (reserving one for a NUL terminator, matching
// the original wire format's buffer bound).
func DeriveTopicName(namespace, tableName, prefix, expectedNamespace string) string {
	var name string

	if trailing, ok := matchedTrailingSegment(namespace, expectedNamespace); ok && trailing != publicSchema {
		name = trailing + "." + tableName
	} else {
		name = tableName
	}

	if prefix != "" {
		name = prefix + "." + name
	}

	return truncateTopicName(name)
}

// matchedTrailingSegment reports whether namespace matches expectedNamespace
// (exactly, or as "expectedNamespace.<segment...>"), and if so the final
// dot-separated segment of namespace.
func matchedTrailingSegment(namespace, expectedNamespace string) (string, bool) {
	if expectedNamespace == "" {
		return "", false
	}
	if namespace == expectedNamespace {
		// No child segment: nothing to prefix with (equivalent to "public").
		return publicSchema, true
	}
	if !strings.HasPrefix(namespace, expectedNamespace+".") {
		return "", false
	}
	rest := strings.TrimPrefix(namespace, expectedNamespace+".")
	parts := strings.Split(rest, ".")
	return parts[len(parts)-1], true
}

func truncateTopicName(name string) string {
	const limit = maxTopicNameBytes - 1
	if len(name) <= limit {
		return name
	}
	return name[:limit]
}
