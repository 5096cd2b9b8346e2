// Package minio provides a kv.Store backed by MinIO or any S3-compatible
// object store reachable through the MinIO client.
//
// Each key is one object under an optional root prefix:
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := miniokv.NewStore(client, "aviladb", "prod/")
//	db, err := aviladb.Open(ctx, store)
package minio
