// Package aviladb is an embedded, partitioned document database with
// cost-based query planning and HNSW vector search.
//
// # Quick Start
//
//	ctx := context.Background()
//	db, _ := aviladb.Open(ctx, kv.NewMemoryStore())
//	defer db.Close()
//
//	users, _ := db.CreateCollection(ctx, "users", partition.Hierarchical("region", "team"))
//	_ = users.Put(ctx, document.MustNew("u1", map[string]any{
//	    "region":    "eu",
//	    "team":      "core",
//	    "embedding": []float32{0.1, 0.9, 0.3},
//	}))
//
// Every document is routed to a partition by its key, serialized with the
// collection codec and compressed according to the collection storage class
// (Hot uses LZ4, Archive uses Zstd). A compressed document may not exceed
// 4 MiB and a partition may not exceed 50 GiB; both limits are checked
// before anything is written.
//
// # Vector Search
//
//	_ = users.CreateVectorIndex(ctx, "embedding", 3)
//	hits, _ := users.Search(ctx, "embedding", []float32{0.1, 0.8, 0.3}, 10,
//	    func(o *aviladb.SearchOptions) { o.Prefix = []any{"eu"} })
//
// # Queries
//
// Queries are planned against the statistics gathered by Collection.Analyze.
// Up to twelve tables are ordered by exhaustive dynamic programming; larger
// queries fall back to a greedy order and report ErrOptimizerDegraded in
// Rows.Warnings.
//
//	q, _ := query.New(
//	    query.From("users", "u"),
//	    query.From("orders", "o"),
//	    query.JoinOn(query.Col("u", "_id"), query.Col("o", "user")),
//	    query.Where(query.Eq(query.Col("u", "region"), "region")),
//	    query.Param("region", "eu"),
//	)
//	rows, _ := db.Query(ctx, q, nil)
//	defer rows.Close()
//	for {
//	    doc, err := rows.Next(ctx)
//	    if err == io.EOF {
//	        break
//	    }
//	    ...
//	}
//
// # Configuration
//
// OpenConfig builds the substrate (memory, local, minio, s3, dynamodb,
// redis or sqlite) and the engine settings from a YAML file loaded with
// config.Load.
package aviladb
