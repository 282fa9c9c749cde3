package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusClass(t *testing.T) {
	tests := map[int]string{
		200: "2xx",
		201: "2xx",
		402: "4xx",
		409: "4xx",
		503: "5xx",
		0:   "unknown",
		700: "unknown",
	}
	for code, want := range tests {
		assert.Equal(t, want, statusClass(code), "code %d", code)
	}
}

func TestMetricsLabelsByRouteTemplate(t *testing.T) {
	app := fiber.New()
	app.Use(Metrics())
	app.Get("/test-metrics/campaigns/:id", func(c fiber.Ctx) error {
		return c.SendStatus(fiber.StatusPaymentRequired)
	})

	ok := requestsTotal.WithLabelValues(fiber.MethodGet, "/test-metrics/campaigns/:id", "4xx")
	before := testutil.ToFloat64(ok)

	for _, id := range []string{"1", "2", "3"} {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/test-metrics/campaigns/"+id, nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusPaymentRequired, resp.StatusCode)
	}

	assert.Equal(t, before+3, testutil.ToFloat64(ok))
	assert.Zero(t, testutil.ToFloat64(requestsInFlight))
}
