package models

// AccountId, FolderId and MessageId are opaque, totally-ordered identifiers
// (spec.md §3). The zero value of each is the distinguished invalid id.
type AccountId string

// Valid reports whether the id was ever assigned a value.
func (id AccountId) Valid() bool { return id != "" }

type FolderId string

func (id FolderId) Valid() bool { return id != "" }

type MessageId string

func (id MessageId) Valid() bool { return id != "" }
