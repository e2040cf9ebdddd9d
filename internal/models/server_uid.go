package models

import (
	"strconv"
	"strings"
)

// ServerUID is the string form of an IMAP UID as stored alongside message
// metadata: the numeric UID, optionally prefixed by a folder qualifier
// separated by "|" (spec.md §3).
type ServerUID string

// NewServerUID builds a ServerUID from a bare numeric IMAP UID.
func NewServerUID(uid uint32) ServerUID {
	return ServerUID(strconv.FormatUint(uint64(uid), 10))
}

// NewQualifiedServerUID builds a ServerUID prefixed with a folder qualifier.
func NewQualifiedServerUID(folderQualifier string, uid uint32) ServerUID {
	return ServerUID(folderQualifier + "|" + strconv.FormatUint(uint64(uid), 10))
}

// UID strips any folder qualifier and returns the numeric IMAP UID. Returns
// (0, false) if the value does not parse.
func (s ServerUID) UID() (uint32, bool) {
	raw := string(s)
	if idx := strings.LastIndex(raw, "|"); idx >= 0 {
		raw = raw[idx+1:]
	}
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// Qualifier returns the folder qualifier prefix, if any.
func (s ServerUID) Qualifier() (string, bool) {
	raw := string(s)
	idx := strings.LastIndex(raw, "|")
	if idx < 0 {
		return "", false
	}
	return raw[:idx], true
}
