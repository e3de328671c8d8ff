package local

import (
	"os"
	"reflect"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/jmxtrans/jmxtrans-sub000/internal/jmx"
)

// Platform MBean names.
var (
	RuntimeMemoryName = jmx.MustParseObjectName("go.runtime:type=Memory")
	RuntimeGCName     = jmx.MustParseObjectName("go.runtime:type=GC")
	RuntimeName       = jmx.MustParseObjectName("go.runtime:type=Runtime")
	HostMemoryName    = jmx.MustParseObjectName("host:type=Memory")
	HostCPUName       = jmx.MustParseObjectName("host:type=CPU")
)

// MemStatsFields are the runtime.MemStats fields exposed as attributes of
// go.runtime:type=Memory.
var MemStatsFields = []string{
	"Alloc",
	"BuckHashSys",
	"Frees",
	"GCSys",
	"HeapAlloc",
	"HeapIdle",
	"HeapInuse",
	"HeapObjects",
	"HeapReleased",
	"HeapSys",
	"Lookups",
	"MCacheInuse",
	"MCacheSys",
	"MSpanInuse",
	"MSpanSys",
	"Mallocs",
	"NextGC",
	"OtherSys",
	"StackInuse",
	"StackSys",
	"Sys",
	"TotalAlloc",
}

var (
	platformOnce sync.Once
	platform     *Server
	startTime    = time.Now()
)

// Platform returns the process-wide server with the Go runtime and host MBeans.
func Platform() *Server {
	platformOnce.Do(func() {
		platform = NewServer()
		_ = platform.Register(RuntimeMemoryName, &memStatsBean{})
		_ = platform.Register(RuntimeGCName, gcBean())
		_ = platform.Register(RuntimeName, runtimeBean())
		_ = platform.Register(HostMemoryName, hostMemoryBean())
		_ = platform.Register(HostCPUName, hostCPUBean())
	})
	return platform
}

// memStatsBean reads runtime.MemStats once per attribute read.
type memStatsBean struct{}

func (*memStatsBean) Info() jmx.MBeanInfo {
	info := jmx.MBeanInfo{ClassName: "runtime.MemStats"}
	for _, f := range MemStatsFields {
		info.Attributes = append(info.Attributes, jmx.AttributeInfo{Name: f, Type: "uint64"})
	}
	info.Attributes = append(info.Attributes, jmx.AttributeInfo{Name: "HeapMemoryUsage", Type: "composite"})
	return info
}

func (*memStatsBean) Attributes(names []string) []jmx.Attribute {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	msValue := reflect.ValueOf(ms)

	var out []jmx.Attribute
	for _, name := range names {
		if name == "HeapMemoryUsage" {
			out = append(out, jmx.Attribute{Name: name, Value: jmx.Composite{Fields: []jmx.Field{
				{Name: "committed", Value: jmx.Scalar{V: ms.HeapSys}},
				{Name: "init", Value: jmx.Scalar{V: uint64(0)}},
				{Name: "max", Value: jmx.Scalar{V: ms.Sys}},
				{Name: "used", Value: jmx.Scalar{V: ms.HeapAlloc}},
			}}})
			continue
		}
		if !isMemStatsField(name) {
			continue
		}
		out = append(out, jmx.Attribute{Name: name, Value: jmx.Scalar{V: msValue.FieldByName(name).Interface()}})
	}
	return out
}

func isMemStatsField(name string) bool {
	for _, f := range MemStatsFields {
		if f == name {
			return true
		}
	}
	return false
}

func gcBean() *FuncBean {
	readStats := func() runtime.MemStats {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		return ms
	}
	return &FuncBean{
		Class: "runtime.GC",
		Getters: []Getter{
			{Name: "NumGC", Type: "uint32", Get: func() (any, error) { return readStats().NumGC, nil }},
			{Name: "NumForcedGC", Type: "uint32", Get: func() (any, error) { return readStats().NumForcedGC, nil }},
			{Name: "PauseTotalNs", Type: "uint64", Get: func() (any, error) { return readStats().PauseTotalNs, nil }},
			{Name: "GCCPUFraction", Type: "float64", Get: func() (any, error) { return readStats().GCCPUFraction, nil }},
			{Name: "LastGC", Type: "uint64", Get: func() (any, error) { return readStats().LastGC, nil }},
			{Name: "RecentPauseNs", Type: "array", Get: func() (any, error) {
				ms := readStats()
				n := int(ms.NumGC)
				if n > 4 {
					n = 4
				}
				pauses := make([]uint64, 0, n)
				for i := 0; i < n; i++ {
					pauses = append(pauses, ms.PauseNs[(int(ms.NumGC)-1-i+256)%256])
				}
				return pauses, nil
			}},
		},
	}
}

func runtimeBean() *FuncBean {
	return &FuncBean{
		Class: "runtime",
		Getters: []Getter{
			{Name: "Goroutines", Type: "int", Get: func() (any, error) { return runtime.NumGoroutine(), nil }},
			{Name: "NumCPU", Type: "int", Get: func() (any, error) { return runtime.NumCPU(), nil }},
			{Name: "GOMAXPROCS", Type: "int", Get: func() (any, error) { return runtime.GOMAXPROCS(0), nil }},
			{Name: "Version", Type: "string", Get: func() (any, error) { return runtime.Version(), nil }},
			{Name: "Pid", Type: "int", Get: func() (any, error) { return os.Getpid(), nil }},
			{Name: "Uptime", Type: "int64", Get: func() (any, error) { return time.Since(startTime).Milliseconds(), nil }},
			{Name: "ProcessMemory", Type: "composite", Get: func() (any, error) {
				p, err := process.NewProcess(int32(os.Getpid()))
				if err != nil {
					return nil, err
				}
				info, err := p.MemoryInfo()
				if err != nil {
					return nil, err
				}
				return map[string]any{"rss": info.RSS, "vms": info.VMS}, nil
			}},
		},
	}
}

func hostMemoryBean() *FuncBean {
	field := func(pick func(*mem.VirtualMemoryStat) any) func() (any, error) {
		return func() (any, error) {
			vm, err := mem.VirtualMemory()
			if err != nil {
				return nil, err
			}
			return pick(vm), nil
		}
	}
	return &FuncBean{
		Class: "host.VirtualMemory",
		Getters: []Getter{
			{Name: "Total", Type: "uint64", Get: field(func(vm *mem.VirtualMemoryStat) any { return vm.Total })},
			{Name: "Free", Type: "uint64", Get: field(func(vm *mem.VirtualMemoryStat) any { return vm.Free })},
			{Name: "Used", Type: "uint64", Get: field(func(vm *mem.VirtualMemoryStat) any { return vm.Used })},
			{Name: "UsedPercent", Type: "float64", Get: field(func(vm *mem.VirtualMemoryStat) any { return vm.UsedPercent })},
		},
	}
}

func hostCPUBean() *FuncBean {
	return &FuncBean{
		Class: "host.CPU",
		Getters: []Getter{
			// Interval 0 compares against the previous call instead of blocking.
			{Name: "Utilization", Type: "array", Get: func() (any, error) { return cpu.Percent(0, true) }},
			{Name: "TotalUtilization", Type: "float64", Get: func() (any, error) {
				percents, err := cpu.Percent(0, false)
				if err != nil || len(percents) == 0 {
					return nil, err
				}
				return percents[0], nil
			}},
			{Name: "Count", Type: "int", Get: func() (any, error) { return cpu.Counts(true) }},
		},
	}
}
