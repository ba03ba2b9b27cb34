package imot

import (
	"context"
	"testing"

	"github.com/man0l/real-estate-analyzer/config"
	"github.com/man0l/real-estate-analyzer/models"
	"github.com/man0l/real-estate-analyzer/utils"
)

type captureStore struct {
	saveCtxErr  error
	hadDeadline bool
	saved       []*models.Property
}

func (c *captureStore) SaveProperty(ctx context.Context, p *models.Property) error {
	c.saveCtxErr = ctx.Err()
	_, c.hadDeadline = ctx.Deadline()
	c.saved = append(c.saved, p)
	return nil
}

func (c *captureStore) SaveMetadata(ctx context.Context, key string, value any) error {
	return nil
}

func TestPersistSurvivesRunCancellation(t *testing.T) {
	store := &captureStore{}
	s := New(&config.Config{MaxRetries: 1}, utils.NewLogger(false), store, NewExtractor(nil))

	// An interrupt arriving while the detail page loads cancels the run
	// context; the extracted listing must still reach the store.
	runCtx, cancel := context.WithCancel(context.Background())
	cancel()
	if !interrupted(runCtx) {
		t.Fatal("run context should be cancelled")
	}

	if err := s.persist(&models.Property{ID: "1a234", URL: "https://www.imot.bg/a"}); err != nil {
		t.Fatalf("persist after interrupt: %v", err)
	}

	if len(store.saved) != 1 {
		t.Fatalf("saved %d listings; want 1", len(store.saved))
	}
	if store.saveCtxErr != nil {
		t.Errorf("store received a cancelled context: %v", store.saveCtxErr)
	}
	if !store.hadDeadline {
		t.Error("persist context carries no deadline")
	}
}
