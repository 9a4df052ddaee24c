package ir

// Field is one JSON object member kept verbatim.
type Field struct {
	Key   string
	Value []byte
}

// Extra is an ordered passthrough bag of object members a parser did not
// model, in document order. Emitters write it back first and in order, so
// unknown fields survive translation where the client put them.
type Extra []Field
