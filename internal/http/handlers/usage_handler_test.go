package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/handshake-escrow/backend/internal/http/dto"
	"github.com/handshake-escrow/backend/internal/middleware"
	"github.com/handshake-escrow/backend/internal/repositories"
	"go.uber.org/zap"
)

type fakeUsageReader struct {
	counts map[string][]repositories.UsageCount
	err    error
}

func (f *fakeUsageReader) GetByAgent(ctx context.Context, agentID string) ([]repositories.UsageCount, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.counts[agentID], nil
}

func usageTestApp(reader *fakeUsageReader, agentID string) *fiber.App {
	h := NewUsageHandler(reader, zap.NewNop())
	app := fiber.New()
	app.Get("/usage", func(c *fiber.Ctx) error {
		c.Locals(middleware.CtxAgentID, agentID)
		return c.Next()
	}, h.GetMyUsage)
	return app
}

func TestGetMyUsage(t *testing.T) {
	reader := &fakeUsageReader{counts: map[string][]repositories.UsageCount{
		"agent-1": {
			{AgentID: "agent-1", Operation: "create", Count: 3},
			{AgentID: "agent-1", Operation: "verify", Count: 1},
		},
	}}
	app := usageTestApp(reader, "agent-1")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/usage", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body dto.UsageResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !body.Success {
		t.Error("success = false, want true")
	}
	if len(body.Usage) != 2 {
		t.Fatalf("got %d counters, want 2", len(body.Usage))
	}
	if body.Usage[0].Operation != "create" || body.Usage[0].Count != 3 {
		t.Errorf("unexpected first counter: %+v", body.Usage[0])
	}
}

func TestGetMyUsageEmptyIsEmptyList(t *testing.T) {
	app := usageTestApp(&fakeUsageReader{}, "agent-nobody")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/usage", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var body dto.UsageResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Usage == nil || len(body.Usage) != 0 {
		t.Errorf("usage = %v, want empty list", body.Usage)
	}
}

func TestGetMyUsageStoreError(t *testing.T) {
	app := usageTestApp(&fakeUsageReader{err: errors.New("db down")}, "agent-1")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/usage", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}
