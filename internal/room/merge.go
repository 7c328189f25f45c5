package room

// Merge combines the stored document with an incoming partial document using per field last-write-wins. An incoming
// entry replaces the current one when the key is new or its timestamp is greater than or equal to the current one, so
// ties favour the incoming write. Neither input is modified.
func Merge(current, incoming Document) Document {
	out := current.Clone()
	for key, inc := range Admitted(current, incoming) {
		out[key] = inc
	}
	return out
}

// Admitted returns the subset of incoming that last-write-wins lets through against current.
func Admitted(current, incoming Document) Document {
	out := make(Document, len(incoming))
	for key, inc := range incoming {
		if cur, ok := current[key]; !ok || inc.TS >= cur.TS {
			out[key] = inc
		}
	}
	return out
}
