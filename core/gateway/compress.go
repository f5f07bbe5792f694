package gateway

import (
	"github.com/gorilla/handlers"
)

// handleCompression compresses responses for clients which accept gzip or deflate
func (g *Gateway) handleCompression() {
	g.router.Use(handlers.CompressHandler)
}
