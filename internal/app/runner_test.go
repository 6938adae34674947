package app

import (
	"testing"
	"time"
)

// Остановка обязана укладываться в десять секунд: на этот предел рассчитаны
// дренаж очереди и сбросы журналов при завершении.
func TestShutdownGraceBound(t *testing.T) {
	t.Parallel()

	if shutdownGrace > 10*time.Second {
		t.Fatalf("shutdownGrace = %s, предел 10s", shutdownGrace)
	}
}
