package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/aleuy/profilerag"
	"github.com/aleuy/profilerag/model"
)

// Ingests a profile corpus from disk into an in-memory index and answers a
// question against it. Expects GROQ_API_KEY in the environment or a .env
// file. Usage: basic <corpus-dir> [question]
func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		log.Fatal("usage: basic <corpus-dir> [question]")
	}
	corpus := os.Args[1]
	question := "What is this person's professional experience?"
	if len(os.Args) > 2 {
		question = os.Args[2]
	}

	config := model.DefaultConfig()
	config.IndexBackend = model.IndexMemory
	config.EmbeddingProvider = model.EmbeddingLocal
	config.EmbeddingModelID = "sentence-transformers/all-MiniLM-L6-v2"
	config.EmbeddingDim = 384
	config.ManifestPath = ""

	ctx := context.Background()
	rag, err := profilerag.New(ctx, config, nil)
	if err != nil {
		log.Fatalf("Failed to create pipeline: %v", err)
	}
	defer rag.Close()

	fmt.Printf("Ingesting corpus from %s...\n", corpus)
	report, err := rag.Ingest(ctx, corpus)
	if err != nil {
		log.Fatalf("Ingestion failed: %v", err)
	}
	fmt.Printf("Ingested %d documents (%d chunks), skipped %d, failed %d\n",
		report.Processed, report.Chunks, report.Skipped, report.Failed)
	for _, failure := range report.Failures {
		fmt.Printf("  failed: %s (%s)\n", failure.Source, failure.Kind)
	}

	if err := rag.Ready(ctx); err != nil {
		log.Fatalf("Index not ready: %v", err)
	}

	fmt.Printf("\nQuestion: %s\n", question)
	answer, err := rag.Ask(ctx, question)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	fmt.Printf("\nAnswer:\n%s\n", answer.Text)
	if answer.Grounded() {
		fmt.Println("\nSources:")
		for _, source := range answer.Sources {
			fmt.Printf("  document %s, chunk %d\n", source.DocumentID, source.ChunkOrdinal)
		}
	} else {
		fmt.Printf("\nDegraded answer (%s)\n", answer.FallbackReason)
	}
}
