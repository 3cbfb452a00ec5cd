package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"rigflip/config"
	"rigflip/models"
	"rigflip/scraper"
)

// These paths return before playwright is started.
func TestBrowserGatewayUnknownHandle(t *testing.T) {
	g := NewBrowserGateway(config.BrowserConfig{Headless: true}, scraper.NewRegistry(testSites()))
	defer g.Close()
	ctx := context.Background()

	assert.ErrorIs(t, g.Inject(ctx, "tab-9"), ErrUnknownHandle)
	assert.ErrorIs(t, g.Send(ctx, "tab-9", models.StartScan{Site: "local"}), ErrUnknownHandle)
	assert.ErrorIs(t, g.Terminate(ctx, "tab-9"), ErrUnknownHandle)
}
