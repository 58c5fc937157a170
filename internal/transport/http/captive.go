package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Well-known connectivity probe paths. Android, Windows, Apple and Kindle
// devices request these to decide whether they sit behind a captive portal;
// answering with a redirect makes them pop the portal page.
var probePaths = []string{
	"/generate_204",
	"/ncsi.txt",
	"/connecttest.txt",
	"/redirect",
	"/hotspot-detect.html",
	"/success.txt",
	"/library/test/success.html",
	"/kindle-wifi/wifistub.html",
	"/mobile/status.php",
	"/check_network_status.txt",
}

// RegisterCaptiveRoutes wires the portal-detection endpoints.
func RegisterCaptiveRoutes(engine *gin.Engine, portalURL string) {
	for _, path := range probePaths {
		engine.GET(path, func(c *gin.Context) {
			c.Redirect(http.StatusFound, portalURL)
		})
	}
}
