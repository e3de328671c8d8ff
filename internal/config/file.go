package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/jmxtrans/jmxtrans-sub000/internal/pool"
	"github.com/jmxtrans/jmxtrans-sub000/internal/query"
	"github.com/jmxtrans/jmxtrans-sub000/internal/resolver"
	"github.com/jmxtrans/jmxtrans-sub000/internal/server"
)

// File is the root of the YAML config file.
type File struct {
	Properties map[string]string `yaml:"properties"`
	Servers    []ServerConfig    `yaml:"servers"`
}

type ServerConfig struct {
	Alias                    string         `yaml:"alias"`
	Pid                      string         `yaml:"pid"`
	URL                      string         `yaml:"url"`
	Host                     string         `yaml:"host"`
	Port                     string         `yaml:"port"`
	Username                 string         `yaml:"username"`
	Password                 string         `yaml:"password"`
	SSL                      bool           `yaml:"ssl"`
	Local                    bool           `yaml:"local"`
	ProtocolProviderPackages string         `yaml:"protocolProviderPackages"`
	NumQueryThreads          int            `yaml:"numQueryThreads"`
	RunPeriodSeconds         int            `yaml:"runPeriodSeconds"`
	Queries                  []QueryConfig  `yaml:"queries"`
	OutputWriters            []WriterConfig `yaml:"outputWriters"`
}

type QueryConfig struct {
	Obj                  string         `yaml:"obj"`
	Attr                 []string       `yaml:"attr"`
	TypeNames            []string       `yaml:"typeNames"`
	ResultAlias          string         `yaml:"resultAlias"`
	UseObjectDomainAsKey bool           `yaml:"useObjectDomainAsKey"`
	AllowDottedKeys      bool           `yaml:"allowDottedKeys"`
	UseAllTypeNames      bool           `yaml:"useAllTypeNames"`
	Notifications        bool           `yaml:"notifications"`
	OutputWriters        []WriterConfig `yaml:"outputWriters"`
}

// WriterConfig configures one output writer. Type selects the writer; the other fields
// are read by the writers that need them.
type WriterConfig struct {
	Type string `yaml:"type"`

	Host string `yaml:"host"`
	Port string `yaml:"port"`

	// RootPrefix is prepended to every key
	RootPrefix string `yaml:"rootPrefix"`

	// TypeNames overrides the query type names when building keys
	TypeNames []string `yaml:"typeNames"`

	BooleanAsNumber bool              `yaml:"booleanAsNumber"`
	Tags            map[string]string `yaml:"tags"`

	// URL is the endpoint of the http writer
	URL string `yaml:"url"`
	// Key signs the http writer payload with HMAC-SHA256
	Key string `yaml:"key"`

	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`

	// DSN is the postgres connection string
	DSN string `yaml:"dsn"`

	OutputFile string `yaml:"outputFile"`
	Delimiter  string `yaml:"delimiter"`

	Namespace string `yaml:"namespace"`

	TimeoutSeconds int `yaml:"timeoutSeconds"`
}

func (w WriterConfig) Timeout() time.Duration {
	if w.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(w.TimeoutSeconds) * time.Second
}

// Load reads path, expands ${...} placeholders with the file properties and the
// environment, and decodes the result. Unknown fields are ignored.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*File, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	var props struct {
		Properties map[string]string `yaml:"properties"`
	}
	if err := root.Decode(&props); err != nil {
		return nil, fmt.Errorf("decoding properties: %w", err)
	}
	resolver.New(props.Properties).ResolveNode(&root)

	var file File
	if err := root.Decode(&file); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &file, nil
}

// WriterFactory creates an output writer from its config.
type WriterFactory func(cfg WriterConfig) (query.OutputWriter, error)

// BuildDeps are the shared collaborators of every built server.
type BuildDeps struct {
	Pool             pool.Pool
	Resolver         server.ConnectorResolver
	NewWriter        WriterFactory
	DefaultRunPeriod time.Duration
	Logger           *zap.SugaredLogger
}

// Build turns the file into servers. The first invalid server, query or writer fails the
// whole build.
func Build(file *File, deps BuildDeps) ([]*server.Server, error) {
	servers := make([]*server.Server, 0, len(file.Servers))
	for i, sc := range file.Servers {
		s, err := buildServer(sc, deps)
		if err != nil {
			return nil, fmt.Errorf("server #%d (%s): %w", i, serverName(sc), err)
		}
		servers = append(servers, s)
	}
	return servers, nil
}

func serverName(sc ServerConfig) string {
	switch {
	case sc.Alias != "":
		return sc.Alias
	case sc.URL != "":
		return sc.URL
	case sc.Pid != "":
		return "pid " + sc.Pid
	default:
		return sc.Host + ":" + sc.Port
	}
}

func buildServer(sc ServerConfig, deps BuildDeps) (*server.Server, error) {
	runPeriod := deps.DefaultRunPeriod
	if sc.RunPeriodSeconds > 0 {
		runPeriod = time.Duration(sc.RunPeriodSeconds) * time.Second
	}

	b := server.NewBuilder().
		SetAlias(sc.Alias).
		SetPid(sc.Pid).
		SetURL(sc.URL).
		SetHost(sc.Host).
		SetPort(sc.Port).
		SetUsername(sc.Username).
		SetPassword(sc.Password).
		SetSSL(sc.SSL).
		SetLocal(sc.Local).
		SetProtocolProviderPackages(sc.ProtocolProviderPackages).
		SetNumQueryThreads(sc.NumQueryThreads).
		SetRunPeriod(runPeriod).
		SetPool(deps.Pool).
		SetLogger(deps.Logger)
	if deps.Resolver != nil {
		b.SetConnectorResolver(deps.Resolver)
	}

	writers, err := buildWriters(sc.OutputWriters, deps)
	if err != nil {
		return nil, err
	}
	b.AddOutputWriters(writers...)

	for _, qc := range sc.Queries {
		q, err := buildQuery(qc, deps)
		if err != nil {
			return nil, err
		}
		b.AddQueries(q)
	}
	return b.Build()
}

func buildQuery(qc QueryConfig, deps BuildDeps) (*query.Query, error) {
	writers, err := buildWriters(qc.OutputWriters, deps)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", qc.Obj, err)
	}
	return query.NewBuilder().
		SetObj(qc.Obj).
		AddAttr(qc.Attr...).
		AddTypeNames(qc.TypeNames...).
		SetResultAlias(qc.ResultAlias).
		SetUseObjectDomainAsKey(qc.UseObjectDomainAsKey).
		SetAllowDottedKeys(qc.AllowDottedKeys).
		SetUseAllTypeNames(qc.UseAllTypeNames).
		SetNotifications(qc.Notifications).
		AddOutputWriters(writers...).
		SetLogger(deps.Logger).
		Build()
}

func buildWriters(configs []WriterConfig, deps BuildDeps) ([]query.OutputWriter, error) {
	writers := make([]query.OutputWriter, 0, len(configs))
	for _, wc := range configs {
		if deps.NewWriter == nil {
			return nil, fmt.Errorf("no writer factory for %q", wc.Type)
		}
		w, err := deps.NewWriter(wc)
		if err != nil {
			return nil, fmt.Errorf("output writer %q: %w", wc.Type, err)
		}
		writers = append(writers, w)
	}
	return writers, nil
}
