package ocr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/docprocd/docprocd/internal/classify"
)

func TestVisionEngineExtractPageCallsLLMCollaborator(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotModel, _ = req["model"].(string)
		require.NotEmpty(t, req["image"])
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"text": "hello", "confidence": 0.97})
	}))
	defer srv.Close()

	client := classify.New(srv.URL, "text-model", "vision-model", 5*time.Second, zap.NewNop())
	engine := NewVisionEngine(client, "", "vision-tier2")

	require.Equal(t, "vision-tier2", engine.Name())

	result, err := engine.ExtractPage(context.Background(), []byte("fake-image-bytes"))
	require.NoError(t, err)
	require.Equal(t, "hello", result.Text)
	require.Equal(t, 0.97, result.Confidence)
	require.Equal(t, "vision-tier2", result.TierUsed)
	require.Equal(t, "vision-model", gotModel)
}
