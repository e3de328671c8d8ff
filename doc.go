// Package jmxtrans implements an agent that polls JMX MBean attributes from Java
// processes and forwards them to monitoring backends.
//
// Servers are described in a YAML file: how to reach each JVM (a service URL, a
// host and port, or the pid of a local process), the queries to run against it and
// the output writers that receive the results. Composite and tabular attribute values
// are flattened into one numeric or textual value per key before writing.
//
// Supported output writers:
//   - graphite, statsd and opentsdb line protocols over TCP or UDP
//   - stdout and keyout for logs and flat files
//   - kafka, prometheus, http and postgres
//   - snapshot, the in-memory store served by the agent HTTP API
//
// Attribute change notifications can be subscribed to per query, in which case the
// changed value is written as soon as the MBean emits it.
//
// The agent is configured via command-line flags and environment variables, see
// cmd/agent.
package jmxtrans
