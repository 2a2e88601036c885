// Package metrics provides Prometheus counters for the upload workflow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FilesStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keepluggable_files_stored_total",
			Help: "Total number of payloads committed to both stores",
		},
		[]string{"namespace", "version"},
	)

	BytesStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keepluggable_bytes_stored_total",
			Help: "Total payload bytes written to the payload store",
		},
		[]string{"namespace"},
	)

	DuplicateHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keepluggable_duplicate_hits_total",
			Help: "Uploads whose fingerprint already existed in the namespace",
		},
		[]string{"namespace"},
	)

	VersionsDerived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keepluggable_versions_derived_total",
			Help: "Derived image renditions produced",
		},
		[]string{"namespace"},
	)

	FilesDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keepluggable_files_deleted_total",
			Help: "Metadata records removed by the deletion workflow",
		},
		[]string{"namespace"},
	)

	PayloadRollbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keepluggable_payload_rollbacks_total",
			Help: "Compensating payload deletes after a metadata write failure",
		},
		[]string{"namespace"},
	)
)
