package gateway

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/schemagate/core/logger"
)

func (g *Gateway) handleVersion() {
	logger.Default().Debugln("  handle version route: /version GET")
	g.router.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		data, _ := json.Marshal(map[string]string{"version": Version})
		w.Write(data)
	}).Methods(http.MethodOptions, http.MethodGet)
}
