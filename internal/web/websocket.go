package web

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// Any origin may watch the ledger.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}
