package detector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var detectorErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modpipe_detector_errors_total",
	Help: "Detector failures degraded to a safe default signal.",
}, []string{"detector"})
