package store

import (
	"context"
	"log"

	"github.com/pkg/errors"

	"schoolrecords/internal/config"
	"schoolrecords/internal/records"
)

// Open connects the record store selected by cfg.StoreBackend and prepares
// its schema or indexes.
func Open(ctx context.Context, cfg config.App) (records.Store, error) {
	switch cfg.StoreBackend {
	case "memory":
		log.Println("record store: memory (data is lost on exit)")
		return records.NewMemoryStore(), nil
	case "mongo":
		m, err := NewMongo(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		repo := records.NewMongoRepository(m.Client, m.Database)
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = m.Close()
			return nil, err
		}
		log.Printf("record store: mongo database %s", cfg.MongoDB)
		return repo, nil
	case "postgres", "":
		db, err := NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Println("record store: postgres")
		return records.NewRepository(db.Client), nil
	default:
		return nil, errors.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}
