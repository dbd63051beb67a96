package config

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultPort      = 11211
	DefaultAgentPort = 5556
)

// Defaults returns the baseline run configuration.
func Defaults() *Options {
	return &Options{
		QPS:       0,
		Time:      5,
		Threads:   1,
		Conns:     1,
		Depth:     1,
		Records:   10000,
		Update:    0.0,
		KeySize:   "30",
		ValueSize: "200",
		IADist:    "exponential",
		LambdaMul: 1,
		AgentPort: DefaultAgentPort,
	}
}

// BindFlags declares the full CLI surface on fs. Call before fs.Parse.
func BindFlags(fs *pflag.FlagSet, o *Options) {
	fs.StringArrayVarP(&o.Servers, "server", "s", nil, "Memcached server hostname[:port]. Repeat to specify multiple servers.")
	fs.BoolVar(&o.Binary, "binary", false, "Use binary memcached protocol instead of ASCII.")
	fs.BoolVar(&o.Redis, "redis", false, "Use RESP protocol for Redis.")
	fs.IntVarP(&o.QPS, "qps", "q", 0, "Target aggregate QPS. 0 = peak QPS.")
	fs.IntVarP(&o.Time, "time", "t", 5, "Measurement time in seconds.")
	fs.IntVarP(&o.Threads, "threads", "T", 1, "Number of threads to spawn.")
	fs.IntVarP(&o.Conns, "connections", "c", 1, "Connections to establish per server per thread.")
	fs.IntVarP(&o.Depth, "depth", "d", 1, "Maximum depth to pipeline requests.")
	fs.Uint64VarP(&o.Records, "records", "r", 10000, "Number of memcached records to use.")
	fs.Float64VarP(&o.Update, "update", "u", 0.0, "Fraction of requests issued as sets (0 to 1).")
	fs.Int64VarP(&o.Queries, "queries", "Q", 0, "Total number of queries to issue (0 = run for --time).")
	fs.StringVarP(&o.KeySize, "keysize", "K", "30", "Length distribution of keys.")
	fs.StringVarP(&o.ValueSize, "valuesize", "V", "200", "Length distribution of values.")
	fs.StringVarP(&o.IADist, "iadist", "i", "exponential", "Inter-arrival distribution. fixed, uniform, exponential and pareto are rescaled to match the QPS given; normal and gev are used as given.")
	fs.IntVarP(&o.Warmup, "warmup", "w", 0, "Warmup time before starting measurement in seconds.")
	fs.IntVarP(&o.Wait, "wait", "W", 0, "Time to wait after startup before starting measurement.")
	fs.BoolVar(&o.NoLoad, "noload", false, "Skip database loading.")
	fs.BoolVar(&o.LoadOnly, "loadonly", false, "Load database and then exit.")
	fs.BoolVar(&o.Blocking, "blocking", false, "Accepted for compatibility; has no effect on socket handling.")
	fs.BoolVar(&o.NoNodelay, "no_nodelay", false, "Don't use TCP_NODELAY.")
	fs.BoolVar(&o.RoundRobin, "roundrobin", false, "Assign threads to servers in round-robin fashion. By default threads are assigned in a striped fashion.")
	fs.BoolVar(&o.Moderate, "moderate", false, "Enforce a minimum delay of 250us between the last response and the next request.")
	fs.BoolVar(&o.Skip, "skip", false, "Skip transmissions if previous requests are late.")
	fs.StringVar(&o.SavePath, "save", "", "Record latency samples to the given file.")
	fs.StringVar(&o.Search, "search", "", "Search for the QPS where N-order statistic < Xus. (i.e. --search 95:1000 means find the QPS where 95% of requests are faster than 1000us).")
	fs.StringVar(&o.Scan, "scan", "", "Scan latency across QPS rates from min to max.")
	fs.BoolVar(&o.Affinity, "affinity", false, "Set CPU affinity for threads, round-robin.")
	fs.BoolVar(&o.AgentMode, "agentmode", false, "Run client in agent mode.")
	fs.StringArrayVarP(&o.Agents, "agent", "a", nil, "Enlist remote agent.")
	fs.IntVarP(&o.AgentPort, "agent_port", "p", DefaultAgentPort, "Agent port.")
	fs.IntVarP(&o.LambdaMul, "lambda_mul", "l", 1, "Lambda multiplier. Increases share of QPS for this client.")
	fs.IntVarP(&o.MeasureConnections, "measure_connections", "C", 0, "Master client connections per server, overrides --connections.")
	fs.IntVarP(&o.MeasureQPS, "measure_qps", "M", 0, "Explicitly set master client QPS, spread across threads and connections.")
	fs.IntVarP(&o.MeasureDepth, "measure_depth", "D", 0, "Set master client connection depth.")
	fs.StringVar(&o.Username, "username", "", "Binary protocol SASL username.")
	fs.StringVar(&o.Password, "password", "", "Binary protocol SASL password.")
	fs.BoolVar(&o.UnixSocket, "unix_socket", false, "Use UNIX socket instead of TCP.")
	fs.StringVar(&o.ReadFile, "read_file", "", "Read traffic from a trace file.")
	fs.IntVar(&o.TwitterTrace, "twitter_trace", 0, "Trace file dialect (0 = generic, 1 = twitter, 2 = compact).")
	fs.BoolVar(&o.GetSet, "getset", false, "Issue a get first, on miss issue a set for the same key.")
	fs.BoolVar(&o.GetSetOrSet, "getsetorset", false, "Getset mode, but trace reads may be issued as sets.")
	fs.Uint64Var(&o.MissWindow, "misswindow", 0, "Rolling miss-rate window size (0 = disabled).")
	fs.StringVar(&o.Prefix, "prefix", "", "Prefix prepended to every generated key.")
	fs.BoolVar(&o.SuccessfulQueries, "successful", false, "Accepted for compatibility; misses are still recorded in the latency stats.")
	fs.BoolVar(&o.ItemLocks, "itemlocks", false, "Serialize miss-fill per key across connections.")
	fs.CountVarP(&o.Verbose, "verbose", "v", "Increase verbosity. May be repeated.")
	fs.BoolVar(&o.Quiet, "quiet", false, "Log only errors and skip the startup banner.")
}

// Load binds the flags onto the defaults and decodes an optional kvblast
// YAML file from the working directory over them; KVBLAST_* environment
// variables override only keys that file sets. Flags given on the command
// line win once fs.Parse runs. Validation is left to Finalize.
func Load(fs *pflag.FlagSet) (*Options, error) {
	o := Defaults()
	BindFlags(fs, o)

	v := viper.New()
	v.SetConfigName("kvblast")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("KVBLAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		if err := v.Unmarshal(o, func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" }); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	return o, nil
}

// Finalize applies cross-option derivations after flag parsing and checks
// for contradictions. It must run exactly once per process.
func Finalize(o *Options) error {
	if o.SASL = o.Username != ""; o.SASL && !o.Binary {
		return fmt.Errorf("SASL auth requires --binary")
	}
	if o.Binary && o.Redis {
		return fmt.Errorf("--binary and --redis are mutually exclusive")
	}
	if o.AgentMode && len(o.Agents) > 0 {
		return fmt.Errorf("agent mode cannot itself enlist agents")
	}
	if !o.AgentMode && len(o.Servers) == 0 {
		return fmt.Errorf("at least one --server is required")
	}
	if o.Depth < 1 {
		return fmt.Errorf("--depth must be >= 1")
	}
	if o.Threads < 1 {
		return fmt.Errorf("--threads must be >= 1")
	}
	if o.Update < 0 || o.Update > 1 {
		return fmt.Errorf("--update must be within [0,1]")
	}
	if o.TwitterTrace < 0 || o.TwitterTrace > 2 {
		return fmt.Errorf("--twitter_trace must be 0, 1 or 2")
	}
	if o.GetSetOrSet && o.ReadFile == "" && !o.GetSet {
		// getsetorset without a trace degenerates to getset.
		o.GetSet = true
	}
	for i, s := range o.Servers {
		if !o.UnixSocket && !strings.Contains(s, ":") {
			o.Servers[i] = fmt.Sprintf("%s:%d", s, DefaultPort)
		}
	}
	return nil
}
