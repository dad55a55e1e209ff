package indexing

// Indexing constants
const (
	// IndexSchemaVersion increments when the document layout changes
	// v1: one document per item, v2: fragment documents with item_id/fragment fields
	IndexSchemaVersion = 2

	// fragmentIDFormat names every fragment after the first
	fragmentIDFormat = "%d_frag%d"
)
