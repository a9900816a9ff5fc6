package metrics

import (
	"fmt"
	"strings"
)

// FormatPrometheus formats metrics in Prometheus text format.
// See: https://prometheus.io/docs/instrumenting/exposition_formats/
func FormatPrometheus(snap Snapshot) string {
	var sb strings.Builder

	header := func(name, kind, help string) {
		sb.WriteString(fmt.Sprintf("# HELP %s %s\n", name, help))
		sb.WriteString(fmt.Sprintf("# TYPE %s %s\n", name, kind))
	}

	header("chatstream_uptime_seconds", "gauge", "Time since the gateway started")
	sb.WriteString(fmt.Sprintf("chatstream_uptime_seconds %d\n\n", snap.Uptime))

	header("chatstream_streams_total", "counter", "Streams by vendor and terminal outcome")
	for _, vendor := range sortedKeys(snap.StreamOutcomes) {
		byOutcome := snap.StreamOutcomes[vendor]
		for _, outcome := range sortedKeys(byOutcome) {
			sb.WriteString(fmt.Sprintf("chatstream_streams_total{vendor=%q,outcome=%q} %d\n", vendor, outcome, byOutcome[outcome]))
		}
	}
	sb.WriteString("\n")

	header("chatstream_streams_in_progress", "gauge", "Streams currently open")
	for _, vendor := range sortedKeys(snap.StreamsInProgress) {
		if n := snap.StreamsInProgress[vendor]; n > 0 {
			sb.WriteString(fmt.Sprintf("chatstream_streams_in_progress{vendor=%q} %d\n", vendor, n))
		}
	}
	sb.WriteString("\n")

	header("chatstream_stream_deltas_total", "counter", "Text deltas forwarded to clients")
	for _, vendor := range sortedKeys(snap.StreamDeltas) {
		sb.WriteString(fmt.Sprintf("chatstream_stream_deltas_total{vendor=%q} %d\n", vendor, snap.StreamDeltas[vendor]))
	}
	sb.WriteString("\n")

	header("chatstream_stream_duration_ms_total", "counter", "Total stream duration in milliseconds")
	for _, vendor := range sortedKeys(snap.StreamDurationMs) {
		sb.WriteString(fmt.Sprintf("chatstream_stream_duration_ms_total{vendor=%q} %d\n", vendor, snap.StreamDurationMs[vendor]))
	}
	sb.WriteString("\n")

	header("chatstream_persist_total", "counter", "Conversation writes by result; failed means the answer was delivered but not saved")
	sb.WriteString(fmt.Sprintf("chatstream_persist_total{result=\"saved\"} %d\n", snap.PersistSaved))
	sb.WriteString(fmt.Sprintf("chatstream_persist_total{result=\"failed\"} %d\n\n", snap.PersistFailed))

	header("chatstream_attachment_failures_total", "counter", "Attachments that could not be written to disk")
	sb.WriteString(fmt.Sprintf("chatstream_attachment_failures_total %d\n\n", snap.AttachmentFailures))

	header("chatstream_attachment_cache_hits_total", "counter", "Attachment cache hits by cache")
	for _, name := range sortedKeys(snap.CacheHits) {
		sb.WriteString(fmt.Sprintf("chatstream_attachment_cache_hits_total{cache=%q} %d\n", name, snap.CacheHits[name]))
	}
	sb.WriteString("\n")

	header("chatstream_attachment_cache_misses_total", "counter", "Attachment cache misses by cache")
	for _, name := range sortedKeys(snap.CacheMisses) {
		sb.WriteString(fmt.Sprintf("chatstream_attachment_cache_misses_total{cache=%q} %d\n", name, snap.CacheMisses[name]))
	}

	return sb.String()
}
