package app

import "time"

// Ticker is a stoppable periodic tick source.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock hands out tickers for attempt countdowns.
type Clock interface {
	NewTicker(d time.Duration) Ticker
}

// SystemClock backs countdowns with time.Ticker.
var SystemClock Clock = systemClock{}

type systemClock struct{}

func (systemClock) NewTicker(d time.Duration) Ticker {
	return systemTicker{t: time.NewTicker(d)}
}

type systemTicker struct {
	t *time.Ticker
}

func (t systemTicker) C() <-chan time.Time { return t.t.C }

func (t systemTicker) Stop() { t.t.Stop() }
