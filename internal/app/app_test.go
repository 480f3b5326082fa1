package app

import (
	"testing"

	"github.com/koopa0/postkb/internal/config"
	"github.com/koopa0/postkb/internal/log"
)

func TestCloseOnPartialApp(t *testing.T) {
	a := &App{}
	if err := a.Close(); err != nil {
		t.Errorf("Close() on empty App = %v", err)
	}

	a = &App{Logger: log.NewNop()}
	if err := a.Close(); err != nil {
		t.Errorf("Close() without pool = %v", err)
	}
}

func TestProvideKnowledgeRejectsBadIdentifiers(t *testing.T) {
	cfg := &config.Config{Schema: "rag-demo", TableName: "posts"}

	if _, err := provideKnowledge(nil, cfg, log.NewNop()); err == nil {
		t.Errorf("provideKnowledge() accepted invalid schema %q", cfg.Schema)
	}
}

func TestProvideKnowledgeRegistersFilterKeys(t *testing.T) {
	cfg := &config.Config{
		Schema:     "rag_demo",
		TableName:  "posts",
		FilterKeys: []string{"user_id"},
	}

	store, err := provideKnowledge(nil, cfg, log.NewNop())
	if err != nil {
		t.Fatalf("provideKnowledge() error = %v", err)
	}
	if store == nil {
		t.Fatal("provideKnowledge() returned nil store")
	}
}
