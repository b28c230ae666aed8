package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/joseph-ayodele/intrastat-extractor/internal/common"
	repo "github.com/joseph-ayodele/intrastat-extractor/internal/repository"
)

func main() {
	cfg := common.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	db, err := repo.Open(ctx, cfg.Database, nil)
	if err != nil {
		log.Fatalf("opening ledger: %v", err)
	}
	defer db.Close(nil)

	if err := db.HealthCheck(ctx, 1*time.Second); err != nil {
		log.Fatalf("DB health: FAIL (%v)", err)
	}
	log.Printf("DB health: OK (%s)", db.Dialect)

	ledger := repo.NewLedger(db, nil)
	if err := ledger.Migrate(ctx); err != nil {
		log.Fatalf("ledger migrate: %v", err)
	}
	log.Println("ledger schema: OK")

	if len(os.Args) == 2 {
		b, err := ledger.Batch(ctx, os.Args[1])
		if err != nil {
			log.Fatalf("batch %s: %v", os.Args[1], err)
		}
		log.Printf("batch %s: documents=%d rows_added=%d issues=%d finished=%t error=%q",
			b.ID, b.Documents, b.RowsAdded, b.Issues, b.Finished, b.Error)
	}
}
