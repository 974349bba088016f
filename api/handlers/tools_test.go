package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicevoice/agentcore/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleListTools(t *testing.T) {
	reg := tools.NewRegistry(nil)
	require.NoError(t, reg.RegisterCatalog(tools.DefaultCatalog(), tools.SimulatedHandlers(tools.DefaultCatalog(), 0)))
	h := HandleListTools(reg)

	list := func(query string) []tools.ToolSpec {
		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodGet, "/api/v1/tools"+query, nil))
		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Data []tools.ToolSpec `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		return body.Data
	}

	all := list("")
	assert.Len(t, all, len(reg.Catalog()))

	music := list("?category=" + string(tools.CategoryMusic))
	require.NotEmpty(t, music)
	for _, s := range music {
		assert.Equal(t, tools.CategoryMusic, s.Category)
	}

	assert.Empty(t, list("?category=weather"))
}
