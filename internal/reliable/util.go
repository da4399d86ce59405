package reliable

import "github.com/VictoriaMetrics/metrics"

var (
	storeConnects    = metrics.NewCounter("fount_store_connects_total")
	storeDisconnects = metrics.NewCounter("fount_store_disconnects_total")
	feedResyncs      = metrics.NewCounter("fount_changefeed_resyncs_total")
)
