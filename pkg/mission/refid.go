package mission

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// RefIDForURL derives the stable 8-hex reference id for a web source:
// the first 8 hex digits of SHA1(url).
func RefIDForURL(url string) string {
	sum := sha1.Sum([]byte(url))
	return hex.EncodeToString(sum[:])[:8]
}

// RefIDForDoc derives the stable 8-hex reference id for a document source:
// the first 8 hex digits of the document id.
func RefIDForDoc(docID string) string {
	cleaned := strings.ToLower(strings.ReplaceAll(docID, "-", ""))
	if len(cleaned) >= 8 {
		return cleaned[:8]
	}
	return cleaned
}

// RefID derives the citable reference id for a note per its source type.
// Document sources use the first component of a "doc_<a>_<b>" style id when
// present; internal sources are their own id.
func (n *Note) RefID() string {
	switch n.SourceType {
	case SourceDocument:
		return RefIDForDoc(DocIDFromSourceID(n.SourceID))
	case SourceWeb:
		return RefIDForURL(n.SourceID)
	default:
		return n.SourceID
	}
}

// DocIDFromSourceID strips the "doc_" prefix and any chunk suffix from a
// document source id: "doc_<docid>_<chunk>" yields "<docid>", a bare doc id
// passes through.
func DocIDFromSourceID(sourceID string) string {
	s := strings.TrimPrefix(sourceID, "doc_")
	if idx := strings.Index(s, "_"); idx > 0 {
		return s[:idx]
	}
	return s
}
