package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Timeframe is a candle bucket length in minutes.
type Timeframe int

// SupportedTimeframes lists the intervals accepted by the OHLC endpoint.
var SupportedTimeframes = []Timeframe{1, 5, 15, 30, 60, 240, 1440, 10080, 21600}

// Validate returns ErrUnsupportedTimeframe for intervals the exchange does not serve.
func (tf Timeframe) Validate() error {
	for _, s := range SupportedTimeframes {
		if tf == s {
			return nil
		}
	}
	return fmt.Errorf("%w: %d", ErrUnsupportedTimeframe, int(tf))
}

// Minutes returns the interval as sent on the wire.
func (tf Timeframe) Minutes() int { return int(tf) }

// Seconds returns the bucket length in seconds.
func (tf Timeframe) Seconds() int64 { return int64(tf) * 60 }

func (tf Timeframe) String() string { return strconv.Itoa(int(tf)) + "m" }

// ParseTimeframe accepts "15" or "15m".
func ParseTimeframe(s string) (Timeframe, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "m")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedTimeframe, s)
	}
	tf := Timeframe(n)
	if err := tf.Validate(); err != nil {
		return 0, err
	}
	return tf, nil
}
