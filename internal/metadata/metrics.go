package metadata

import "github.com/VictoriaMetrics/metrics"

var (
	collectionsCreated = metrics.NewCounter("fount_collections_created_total")
	indexesCreated     = metrics.NewCounter("fount_indexes_created_total")
)
