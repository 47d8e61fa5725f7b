// Package metrics defines the recorder interfaces used to observe dispatch:
// assignments, escalations, queue length, ambulance positions, status
// transitions and arrivals. Sinks implement MetricsSink plus whichever
// optional recorders they support; NewMultiSink combines several of them and
// the factory helpers build one from configuration.
package metrics
