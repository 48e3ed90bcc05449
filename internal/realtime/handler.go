package realtime

import (
	"net/http"

	"webphone-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// TokenValidator validates the session credential presented at connect time
// and returns the owning user id.
type TokenValidator func(token string) (userID string, err error)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 10,
	WriteBufferSize: 4 << 10,
	// Browser clients connect from the app origin; the credential token is
	// the access control, not the Origin header.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades GET /realtime?token=... into a hub connection.
func Handler(hub *Hub, validate TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.FromGin(c)

		token := c.Query("token")
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		userID, err := validate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("realtime upgrade failed", "err", err)
			return
		}

		log.Debug("realtime connected", "user_id", userID)
		hub.Attach(ws, userID)
	}
}
