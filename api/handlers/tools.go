package handlers

import (
	"net/http"

	"github.com/alicevoice/agentcore/tools"
)

// ToolCatalog 提供已注册工具的元数据
type ToolCatalog interface {
	Catalog() []tools.ToolSpec
}

// HandleListTools 返回 GET /api/v1/tools 处理函数
func HandleListTools(catalog ToolCatalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		specs := catalog.Catalog()
		if c := r.URL.Query().Get("category"); c != "" {
			filtered := specs[:0:0]
			for _, s := range specs {
				if string(s.Category) == c {
					filtered = append(filtered, s)
				}
			}
			specs = filtered
		}
		WriteSuccess(w, specs)
	}
}
