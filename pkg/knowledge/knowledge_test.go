package knowledge

import (
	"context"
	"testing"

	"opsdesk/pkg/tenant"
)

func testCorpus() []Chunk {
	return []Chunk{
		{Source: "refunds.md", Content: "Refunds for duplicate charges are issued within 5 business days.", Score: 0.9},
		{Source: "shipping.md", Content: "Orders ship within 48 hours.", Score: 0.6},
		{Source: "billing.md", Content: "Invoices are emailed on the first of the month.", Score: 0.4},
	}
}

func TestRetrieveFiltersByThreshold(t *testing.T) {
	t.Parallel()

	retriever := &StaticRetriever{Corpus: testCorpus()}

	chunks, err := retriever.Retrieve(context.Background(), tenant.RetrievalConfig{SimilarityThreshold: 0.5}, "refund")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}

	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2 above threshold", len(chunks))
	}
	for _, chunk := range chunks {
		if chunk.Score < 0.5 {
			t.Fatalf("chunk %s scored %v, below threshold", chunk.Source, chunk.Score)
		}
	}
}

func TestRetrieveBoundsByMaxChunks(t *testing.T) {
	t.Parallel()

	retriever := &StaticRetriever{Corpus: testCorpus()}

	chunks, err := retriever.Retrieve(context.Background(), tenant.RetrievalConfig{MaxChunks: 1, SimilarityThreshold: 0.1}, "order")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}

	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	if chunks[0].Source != "refunds.md" {
		t.Fatalf("top chunk = %s, want highest scored first", chunks[0].Source)
	}
}

func TestRetrieveScoresUnscoredMatches(t *testing.T) {
	t.Parallel()

	retriever := &StaticRetriever{Corpus: []Chunk{
		{Source: "faq.md", Content: "You can reset your password from the login page."},
	}}

	chunks, err := retriever.Retrieve(context.Background(), tenant.RetrievalConfig{SimilarityThreshold: 0.5}, "reset your password")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}

	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want substring match scored in", len(chunks))
	}
	if chunks[0].Score <= 0 {
		t.Fatalf("score = %v, want positive", chunks[0].Score)
	}
}

func TestRetrieveEmptyQueryReturnsNothingUnscored(t *testing.T) {
	t.Parallel()

	retriever := &StaticRetriever{Corpus: []Chunk{
		{Source: "faq.md", Content: "Anything."},
	}}

	chunks, err := retriever.Retrieve(context.Background(), tenant.RetrievalConfig{SimilarityThreshold: 0.5}, "")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("chunks = %d, want none for empty query", len(chunks))
	}
}

func TestRetrieveHonorsCancellation(t *testing.T) {
	t.Parallel()

	retriever := &StaticRetriever{Corpus: testCorpus()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := retriever.Retrieve(ctx, tenant.RetrievalConfig{}, "refund"); err == nil {
		t.Fatal("Retrieve() ignored canceled context")
	}
}
