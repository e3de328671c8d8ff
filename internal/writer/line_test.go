package writer

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmxtrans/jmxtrans-sub000/internal/config"
	"github.com/jmxtrans/jmxtrans-sub000/internal/result"
)

// tcpSink accepts one connection and collects lines until n are read.
func tcpSink(t *testing.T, n int) (host, port string, lines <-chan []string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	out := make(chan []string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var got []string
		scanner := bufio.NewScanner(conn)
		for len(got) < n && scanner.Scan() {
			got = append(got, scanner.Text())
		}
		out <- got
	}()
	host, port, err = net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	return host, port, out
}

func receive(t *testing.T, ch <-chan []string) []string {
	t.Helper()
	select {
	case got := <-ch:
		return got
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for lines")
		return nil
	}
}

func TestGraphite(t *testing.T) {
	host, port, lines := tcpSink(t, 2)
	w, err := NewGraphite(config.WriterConfig{Host: host, Port: port, RootPrefix: "jmx"}, nop())
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Close()

	err = w.DoWrite(context.Background(), testEndpoint("app"), memoryQuery(t), memoryResults())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"jmx.app.sun_management_MemoryImpl.Memory.HeapMemoryUsage_used 1024 1700000000",
		"jmx.app.sun_management_MemoryImpl.Memory.HeapMemoryUsage_max 2.5 1700000000",
	}, receive(t, lines))
}

func TestGraphite_BooleanAsNumber(t *testing.T) {
	host, port, lines := tcpSink(t, 3)
	w, err := NewGraphite(config.WriterConfig{Host: host, Port: port, BooleanAsNumber: true}, nop())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.DoWrite(context.Background(), testEndpoint("app"), memoryQuery(t), memoryResults()))
	got := receive(t, lines)
	require.Len(t, got, 3)
	assert.Equal(t, "app.sun_management_MemoryImpl.Memory.Verbose 1 1700000000", got[2])
}

func TestGraphite_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, port, _ := net.SplitHostPort(ln.Addr().String())
	ln.Close()

	w, err := NewGraphite(config.WriterConfig{Host: host, Port: port, TimeoutSeconds: 1}, nop())
	require.NoError(t, err)
	err = w.DoWrite(context.Background(), testEndpoint("app"), memoryQuery(t), memoryResults())
	assert.Error(t, err)
	assert.NoError(t, w.Close())
}

func TestStatsD(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()
	host, port, _ := net.SplitHostPort(pc.LocalAddr().String())

	w, err := NewStatsD(config.WriterConfig{Host: host, Port: port}, nop())
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.DoWrite(context.Background(), testEndpoint("app"), memoryQuery(t), memoryResults()))

	var got []string
	buf := make([]byte, 1024)
	_ = pc.SetReadDeadline(time.Now().Add(5 * time.Second))
	for len(got) < 2 {
		n, _, err := pc.ReadFrom(buf)
		require.NoError(t, err)
		got = append(got, string(buf[:n]))
	}
	assert.Equal(t, []string{
		"app.sun_management_MemoryImpl.Memory.HeapMemoryUsage_used:1024|g",
		"app.sun_management_MemoryImpl.Memory.HeapMemoryUsage_max:2.5|g",
	}, got)
}

func TestOpenTSDB(t *testing.T) {
	host, port, lines := tcpSink(t, 1)
	w, err := NewOpenTSDB(config.WriterConfig{Host: host, Port: port, Tags: map[string]string{"env": "prod"}}, nop())
	require.NoError(t, err)
	defer w.Close()

	q, err := queryWithTypeNames("java.lang:type=GarbageCollector,name=*", "name")
	require.NoError(t, err)
	results := []result.Result{resultFor("CollectionCount", "type=GarbageCollector,name=G1 Young", int64(7))}

	require.NoError(t, w.DoWrite(context.Background(), testEndpoint("app"), q, results))
	got := receive(t, lines)
	require.Len(t, got, 1)
	assert.Equal(t, "put sun_management_MemoryImpl.CollectionCount 1700000000 7 env=prod host=app name=G1_Young", got[0])
}

func gcResults() []result.Result {
	return []result.Result{
		resultFor("CollectionCount", "type=GarbageCollector,name=PS Scavenge", int64(3)),
		resultFor("CollectionCount", "type=GarbageCollector,name=PS MarkSweep", int64(1)),
	}
}

func TestGraphite_WildcardInstancesStayDistinct(t *testing.T) {
	host, port, lines := tcpSink(t, 2)
	w, err := NewGraphite(config.WriterConfig{Host: host, Port: port}, nop())
	require.NoError(t, err)
	defer w.Close()

	q, err := queryWithTypeNames("java.lang:type=GarbageCollector,name=*")
	require.NoError(t, err)
	require.NoError(t, w.DoWrite(context.Background(), testEndpoint("app"), q, gcResults()))

	assert.Equal(t, []string{
		"app.sun_management_MemoryImpl.GarbageCollector_PS_Scavenge.CollectionCount 3 1700000000",
		"app.sun_management_MemoryImpl.GarbageCollector_PS_MarkSweep.CollectionCount 1 1700000000",
	}, receive(t, lines))
}

func TestOpenTSDB_WildcardInstancesStayDistinct(t *testing.T) {
	host, port, lines := tcpSink(t, 2)
	w, err := NewOpenTSDB(config.WriterConfig{Host: host, Port: port}, nop())
	require.NoError(t, err)
	defer w.Close()

	q, err := queryWithTypeNames("java.lang:type=GarbageCollector,name=*")
	require.NoError(t, err)
	require.NoError(t, w.DoWrite(context.Background(), testEndpoint("app"), q, gcResults()))

	assert.Equal(t, []string{
		"put sun_management_MemoryImpl.CollectionCount 1700000000 3 host=app name=PS_Scavenge type=GarbageCollector",
		"put sun_management_MemoryImpl.CollectionCount 1700000000 1 host=app name=PS_MarkSweep type=GarbageCollector",
	}, receive(t, lines))
}
