package vulcanodb

// IngestionResult reports how many of a batch ingestion's documents
// were written successfully.
type IngestionResult struct {
	Total    int
	Ingested int
	Errors   []error
}

// IngestStream pulls documents from next until it reports exhaustion,
// submitting each through the ingestion scheduler as it is produced.
// Suits producers that materialize documents lazily (file readers,
// embedding pipelines) where a full slice would be wasteful.
func (db *Db) IngestStream(next func() (*Document, bool)) IngestionResult {
	var result IngestionResult
	var handles []*Completion
	for {
		doc, ok := next()
		if !ok {
			break
		}
		result.Total++
		c, err := db.AddAsync(doc)
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		handles = append(handles, c)
	}
	for _, c := range handles {
		if err := c.Wait(); err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		result.Ingested++
	}
	return result
}

// IngestDocuments submits every doc in docs through the ingestion
// scheduler, letting the bounded queue apply backpressure to the
// submission loop, then waits for every completion. Per-document
// failures are collected rather than aborting the batch.
func (db *Db) IngestDocuments(docs []*Document) IngestionResult {
	result := IngestionResult{Total: len(docs)}
	handles := make([]*Completion, 0, len(docs))
	for _, doc := range docs {
		c, err := db.AddAsync(doc)
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		handles = append(handles, c)
	}
	for _, c := range handles {
		if err := c.Wait(); err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		result.Ingested++
	}
	return result
}
